package ganache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const fakeClientVersion = "Ganache/v7.9.2/EthereumJS TestRPC/v7.9.2/ethereum-js"

// fakeRPCError is returned by the fake node to carry ganache-style error data.
type fakeRPCError struct {
	msg  string
	data any
}

func (e *fakeRPCError) Error() string          { return e.msg }
func (e *fakeRPCError) ErrorCode() int         { return -32000 }
func (e *fakeRPCError) ErrorData() interface{} { return e.data }

type fakeBlock struct {
	hash      common.Hash
	timestamp uint64
}

// fakeNode is an in-memory chain answering the subset of the ganache JSON-RPC API the
// provider uses.
type fakeNode struct {
	mu            sync.Mutex
	clientVersion string
	chainID       uint64
	extraData     []byte
	genesis       common.Hash
	blocks        []fakeBlock
	snapshots     map[uint64]int
	nextSnapshot  uint64
	times         []string
	revertArgs    []json.RawMessage
	added         []common.Address
	unlocked      []common.Address
	traces        map[common.Hash][]types.TraceFrame
	estimateErr   error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		clientVersion: fakeClientVersion,
		chainID:       ChainID,
		genesis:       crypto.Keccak256Hash([]byte("genesis")),
		snapshots:     make(map[uint64]int),
		nextSnapshot:  1,
		traces:        make(map[common.Hash][]types.TraceFrame),
	}
}

func (n *fakeNode) rpcServer(t testing.TB) *rpc.Server {
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("web3", &fakeWeb3{n}))
	require.NoError(t, srv.RegisterName("eth", &fakeEth{n}))
	require.NoError(t, srv.RegisterName("evm", &fakeEVM{n}))
	require.NoError(t, srv.RegisterName("personal", &fakePersonal{n}))
	require.NoError(t, srv.RegisterName("debug", &fakeDebug{n}))
	return srv
}

// serve starts serving the node on 127.0.0.1:port.
func (n *fakeNode) serve(t testing.TB, port int) (*http.Server, error) {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: n.rpcServer(t)}
	go func() { _ = srv.Serve(l) }()
	return srv, nil
}

func (n *fakeNode) headLocked() (uint64, fakeBlock) {
	if len(n.blocks) == 0 {
		return 0, fakeBlock{hash: n.genesis}
	}
	return uint64(len(n.blocks)), n.blocks[len(n.blocks)-1]
}

func (n *fakeNode) blockLocked(number uint64) (fakeBlock, bool) {
	if number == 0 {
		return fakeBlock{hash: n.genesis}, true
	}
	if number > uint64(len(n.blocks)) {
		return fakeBlock{}, false
	}
	return n.blocks[number-1], true
}

func (n *fakeNode) blockNumber() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	num, _ := n.headLocked()
	return num
}

type fakeWeb3 struct{ n *fakeNode }

func (s *fakeWeb3) ClientVersion() string {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return s.n.clientVersion
}

type fakeEth struct{ n *fakeNode }

func (s *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetUint64(s.n.chainID))
}

func (s *fakeEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(defaultGasPrice))
}

func (s *fakeEth) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(s.n.blockNumber())
}

func (s *fakeEth) GetBlockByNumber(id string, _ bool) (map[string]any, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	var (
		number uint64
		block  fakeBlock
	)
	switch id {
	case "latest", "pending":
		number, block = s.n.headLocked()
	case "earliest":
		block, _ = s.n.blockLocked(0)
	default:
		num, err := hexutil.DecodeUint64(id)
		if err != nil {
			return nil, err
		}
		b, ok := s.n.blockLocked(num)
		if !ok {
			return nil, nil
		}
		number, block = num, b
	}

	parent := common.Hash{}
	if number > 0 {
		p, _ := s.n.blockLocked(number - 1)
		parent = p.hash
	}
	return map[string]any{
		"number":        hexutil.EncodeUint64(number),
		"hash":          block.hash,
		"parentHash":    parent,
		"timestamp":     hexutil.EncodeUint64(block.timestamp),
		"gasLimit":      hexutil.EncodeUint64(30_000_000),
		"gasUsed":       "0x0",
		"baseFeePerGas": "0x3b9aca00",
		"miner":         common.Address{},
		"extraData":     hexutil.Bytes(s.n.extraData),
		"transactions":  []any{},
	}, nil
}

func (s *fakeEth) EstimateGas(_ map[string]any, _ *string) (hexutil.Uint64, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if s.n.estimateErr != nil {
		return 0, s.n.estimateErr
	}
	return 21000, nil
}

type fakeEVM struct{ n *fakeNode }

func (s *fakeEVM) Mine() string {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	number, head := s.n.headLocked()
	s.n.blocks = append(s.n.blocks, fakeBlock{
		hash:      crypto.Keccak256Hash(s.n.genesis.Bytes(), big.NewInt(int64(number+1)).Bytes(), []byte(strconv.Itoa(len(s.n.snapshots)))),
		timestamp: head.timestamp + 1,
	})
	return "0x0"
}

func (s *fakeEVM) Snapshot() string {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	id := s.n.nextSnapshot
	s.n.nextSnapshot++
	s.n.snapshots[id] = len(s.n.blocks)
	return hexutil.EncodeUint64(id)
}

func (s *fakeEVM) Revert(raw json.RawMessage) (bool, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.revertArgs = append(s.n.revertArgs, raw)

	var id uint64
	var num uint64
	var str string
	switch {
	case json.Unmarshal(raw, &num) == nil:
		id = num
	case json.Unmarshal(raw, &str) == nil:
		v, err := hexutil.DecodeUint64(str)
		if err != nil {
			return false, nil
		}
		id = v
	default:
		return false, errors.New("invalid snapshot id")
	}

	height, ok := s.n.snapshots[id]
	if !ok {
		return false, nil
	}
	s.n.blocks = s.n.blocks[:height]
	for other := range s.n.snapshots {
		if other >= id {
			delete(s.n.snapshots, other)
		}
	}
	return true, nil
}

func (s *fakeEVM) SetTime(t string) bool {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.times = append(s.n.times, t)
	return true
}

func (s *fakeEVM) AddAccount(addr common.Address, _ string) bool {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.added = append(s.n.added, addr)
	return true
}

type fakePersonal struct{ n *fakeNode }

func (s *fakePersonal) UnlockAccount(addr common.Address, _ string, _ uint64) bool {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	for _, a := range s.n.added {
		if a == addr {
			s.n.unlocked = append(s.n.unlocked, addr)
			return true
		}
	}
	return false
}

type fakeDebug struct{ n *fakeNode }

func (s *fakeDebug) TraceTransaction(hash common.Hash) (map[string]any, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	frames, ok := s.n.traces[hash]
	if !ok {
		return nil, &fakeRPCError{msg: "Unknown transaction " + hash.Hex()}
	}
	return map[string]any{"gas": 0, "failed": false, "returnValue": "", "structLogs": frames}, nil
}

// fakeProcess serves a fakeNode in place of a ganache process.
type fakeProcess struct {
	srv    *http.Server
	done   chan struct{}
	once   sync.Once
	err    error
	output string
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }
func (p *fakeProcess) Output() string        { return p.output }

func (p *fakeProcess) Stop(context.Context) error {
	p.exit()
	return nil
}

// exit shuts the server down and closes done. It is safe to call more than once.
func (p *fakeProcess) exit() {
	p.once.Do(func() {
		if p.srv != nil {
			_ = p.srv.Close()
		}
		close(p.done)
	})
}

func (p *fakeProcess) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// fakeLauncher starts fakeNodes on the requested port.
type fakeLauncher struct {
	t testing.TB

	mu sync.Mutex
	// newNode builds the node for each launch; nil uses newFakeNode.
	newNode func() *fakeNode
	// results are consumed one per launch: a non-nil error fails the launch.
	results []error
	// crashes are consumed one per launch: true starts a process that has already exited.
	crashes []bool
	specs   []LaunchSpec
	nodes   []*fakeNode
	procs   []*fakeProcess
}

func newFakeLauncher(t testing.TB) *fakeLauncher {
	return &fakeLauncher{t: t}
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)

	if len(l.results) > 0 {
		err := l.results[0]
		l.results = l.results[1:]
		if err != nil {
			return nil, err
		}
	}
	crash := false
	if len(l.crashes) > 0 {
		crash = l.crashes[0]
		l.crashes = l.crashes[1:]
	}

	proc := &fakeProcess{done: make(chan struct{})}
	if crash {
		proc.err = errors.New("exit status 1")
		proc.output = "Error: listen EADDRINUSE: address already in use 127.0.0.1:" + strconv.Itoa(spec.Port)
		proc.exit()
		l.procs = append(l.procs, proc)
		return proc, nil
	}

	node := newFakeNode()
	if l.newNode != nil {
		node = l.newNode()
	}
	srv, err := node.serve(l.t, spec.Port)
	if err != nil {
		proc.err = err
		proc.output = err.Error()
		proc.exit()
	} else {
		proc.srv = srv
		l.t.Cleanup(func() { _ = proc.Stop(context.Background()) })
	}
	l.nodes = append(l.nodes, node)
	l.procs = append(l.procs, proc)
	return proc, nil
}

func (l *fakeLauncher) launches() []LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LaunchSpec(nil), l.specs...)
}

func (l *fakeLauncher) lastNode() *fakeNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.nodes) == 0 {
		return nil
	}
	return l.nodes[len(l.nodes)-1]
}

// parseArgs maps each "--key" in args to the values that follow it, or to the inline
// value of "--key=value".
func parseArgs(args []string) map[string][]string {
	flags := make(map[string][]string)
	current := ""
	for _, arg := range args {
		key, isFlag := strings.CutPrefix(arg, "--")
		if !isFlag {
			if current != "" {
				flags[current] = append(flags[current], arg)
			}
			continue
		}
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = append(flags[k], v)
			current = ""
			continue
		}
		if _, ok := flags[key]; !ok {
			flags[key] = []string{}
		}
		current = key
	}
	return flags
}

// freePort returns a port that was free when probed.
func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// serveFakeNode serves n on a free port for the duration of the test and returns its URL.
func serveFakeNode(t testing.TB, n *fakeNode) (string, int) {
	t.Helper()
	port := freePort(t)
	srv, err := n.serve(t, port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return fmt.Sprintf("http://127.0.0.1:%d", port), port
}

// newTestBuilder returns a builder wired to launcher with a private port registry.
func newTestBuilder(t testing.TB, network string, launcher Launcher) *ProviderBuilder {
	var logger *zap.Logger
	if tt, ok := t.(*testing.T); ok {
		logger = zaptest.NewLogger(tt)
	} else {
		logger = zap.NewNop()
	}
	cfg := DefaultConfig()
	cfg.StartupTimeout = 5
	return NewProviderBuilder("ethereum", network).
		WithConfig(cfg).
		WithLauncher(launcher).
		WithPortRegistry(NewPortRegistry()).
		WithLogger(logger)
}

// connectedProvider returns a provider connected to a fake node on an explicit port.
func connectedProvider(t *testing.T, opts ...func(*ProviderBuilder)) (*Provider, *fakeNode) {
	t.Helper()
	launcher := newFakeLauncher(t)
	b := newTestBuilder(t, LocalNetwork, launcher).WithPort(Port(freePort(t)))
	for _, opt := range opts {
		opt(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
	return p, launcher.lastNode()
}
