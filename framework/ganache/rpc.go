package ganache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/celestiaorg/tastora-ganache/framework/trace"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// unlockDuration keeps an unlocked account unlocked for the life of the node.
const unlockDuration = 9999999999

// call issues one JSON-RPC request on the live connection.
func (p *Provider) call(ctx context.Context, result any, method string, args ...any) error {
	c, _, err := p.client()
	if err != nil {
		return err
	}
	err = c.CallContext(ctx, result, method, args...)
	p.metrics.rpcRequest(method, err)
	return err
}

// ChainID returns the chain id reported by the node.
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	_, eth, err := p.client()
	if err != nil {
		return nil, err
	}
	id, err := eth.ChainID(ctx)
	p.metrics.rpcRequest("eth_chainId", err)
	return id, err
}

// GasPrice returns the node's suggested gas price.
func (p *Provider) GasPrice(ctx context.Context) (*big.Int, error) {
	_, eth, err := p.client()
	if err != nil {
		return nil, err
	}
	price, err := eth.SuggestGasPrice(ctx)
	p.metrics.rpcRequest("eth_gasPrice", err)
	return price, err
}

// PriorityFee is always zero on a development network.
func (p *Provider) PriorityFee(context.Context) (*big.Int, error) {
	return new(big.Int), nil
}

// BlockNumber returns the number of the latest block.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	_, eth, err := p.client()
	if err != nil {
		return 0, err
	}
	n, err := eth.BlockNumber(ctx)
	p.metrics.rpcRequest("eth_blockNumber", err)
	return n, err
}

// GetBlock returns the block with the given number, or the latest block when number is nil.
// Blocks are decoded in proof-of-authority mode when the chain was detected as one.
func (p *Provider) GetBlock(ctx context.Context, number *big.Int) (*Block, error) {
	c, _, err := p.client()
	if err != nil {
		return nil, err
	}
	b, err := p.blocks.fetch(ctx, c, blockID(number))
	p.metrics.rpcRequest("eth_getBlockByNumber", err)
	return b, err
}

// Mine mines numBlocks blocks, one evm_mine request each.
func (p *Provider) Mine(ctx context.Context, numBlocks int) error {
	for i := 0; i < numBlocks; i++ {
		if err := p.call(ctx, nil, "evm_mine"); err != nil {
			return fmt.Errorf("failed to mine block %d of %d: %w", i+1, numBlocks, err)
		}
	}
	return nil
}

// Snapshot records the current chain state.
func (p *Provider) Snapshot(ctx context.Context) (types.SnapshotID, error) {
	var raw json.RawMessage
	if err := p.call(ctx, &raw, "evm_snapshot"); err != nil {
		return "", err
	}
	return types.SnapshotID(stringifyResult(raw)), nil
}

// Revert restores a snapshot. Numeric identifiers are sent as integers.
func (p *Provider) Revert(ctx context.Context, id types.SnapshotID) (bool, error) {
	var arg any = string(id)
	if n, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		arg = n
	}
	var ok bool
	if err := p.call(ctx, &ok, "evm_revert", arg); err != nil {
		return false, err
	}
	return ok, nil
}

// SetTimestamp sets the node clock to timestamp, in seconds since the epoch.
func (p *Provider) SetTimestamp(ctx context.Context, timestamp uint64) error {
	return p.call(ctx, nil, "evm_setTime", hexutil.EncodeUint64(timestamp*1000))
}

// UnlockAccount adds address to the node's accounts and unlocks it without a password.
func (p *Provider) UnlockAccount(ctx context.Context, address common.Address) (bool, error) {
	if err := p.call(ctx, nil, "evm_addAccount", address, ""); err != nil {
		return false, err
	}
	var ok bool
	if err := p.call(ctx, &ok, "personal_unlockAccount", address, "", unlockDuration); err != nil {
		return false, err
	}
	return ok, nil
}

// TraceSource returns a trace.Source that fetches the step trace of txHash on every call.
func (p *Provider) TraceSource(txHash common.Hash) trace.Source {
	return func(ctx context.Context) ([]types.TraceFrame, error) {
		return p.GetTransactionTrace(ctx, txHash)
	}
}

// GetTransactionTrace fetches the step trace of a mined transaction.
func (p *Provider) GetTransactionTrace(ctx context.Context, txHash common.Hash) ([]types.TraceFrame, error) {
	var result struct {
		StructLogs []types.TraceFrame `json:"structLogs"`
	}
	if err := p.call(ctx, &result, "debug_traceTransaction", txHash); err != nil {
		return nil, fmt.Errorf("failed to trace %s: %w", txHash, err)
	}
	return result.StructLogs, nil
}

// EstimateGas estimates the gas msg needs. Node failures are translated like transaction errors.
func (p *Provider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	_, eth, err := p.client()
	if err != nil {
		return 0, err
	}
	gas, err := eth.EstimateGas(ctx, msg)
	p.metrics.rpcRequest("eth_estimateGas", err)
	if err != nil {
		return 0, p.VirtualMachineError(ctx, err)
	}
	return gas, nil
}

// SendTransaction submits a signed transaction. Node failures are translated like
// transaction errors.
func (p *Provider) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	_, eth, err := p.client()
	if err != nil {
		return err
	}
	err = eth.SendTransaction(ctx, tx)
	p.metrics.rpcRequest("eth_sendRawTransaction", err)
	if err != nil {
		return p.VirtualMachineError(ctx, err)
	}
	return nil
}

// RPCClient returns the underlying JSON-RPC connection.
func (p *Provider) RPCClient() (*rpc.Client, error) {
	c, _, err := p.client()
	return c, err
}

// stringifyResult renders a JSON result as text: strings are unquoted, anything else is
// kept as its JSON encoding.
func stringifyResult(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
