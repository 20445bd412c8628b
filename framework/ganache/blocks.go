package ganache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// maxExtraDataLength is the longest extraData a non proof-of-authority block may carry.
const maxExtraDataLength = 32

// Block is the header-level view of a block returned by GetBlock.
type Block struct {
	Number     *big.Int
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	GasLimit   uint64
	GasUsed    uint64
	BaseFee    *big.Int
	Miner      common.Address
	ExtraData  []byte
	// ProofOfAuthorityData holds the signer data of a proof-of-authority block. It replaces
	// ExtraData once the fetcher is in proof-of-authority mode.
	ProofOfAuthorityData []byte
	TxCount              int
}

type rpcBlock struct {
	Number               *hexutil.Big      `json:"number"`
	Hash                 common.Hash       `json:"hash"`
	ParentHash           common.Hash       `json:"parentHash"`
	Timestamp            hexutil.Uint64    `json:"timestamp"`
	GasLimit             hexutil.Uint64    `json:"gasLimit"`
	GasUsed              hexutil.Uint64    `json:"gasUsed"`
	BaseFee              *hexutil.Big      `json:"baseFeePerGas"`
	Miner                common.Address    `json:"miner"`
	ExtraData            hexutil.Bytes     `json:"extraData"`
	ProofOfAuthorityData *hexutil.Bytes    `json:"proofOfAuthorityData"`
	Transactions         []json.RawMessage `json:"transactions"`
}

// blockFetcher decodes eth_getBlockByNumber results. In strict mode an oversized extraData is
// rejected with ErrExtraDataLength; in proof-of-authority mode it is moved to
// ProofOfAuthorityData.
type blockFetcher struct {
	poa atomic.Bool
}

func (f *blockFetcher) setPoA() { f.poa.Store(true) }

func (f *blockFetcher) isPoA() bool { return f.poa.Load() }

// fetch returns the block identified by id, a hex number or a tag such as "latest".
func (f *blockFetcher) fetch(ctx context.Context, c *rpc.Client, id string) (*Block, error) {
	var raw json.RawMessage
	if err := c.CallContext(ctx, &raw, "eth_getBlockByNumber", id, false); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}

	var rb rpcBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", id, err)
	}

	b := &Block{
		Number:     (*big.Int)(rb.Number),
		Hash:       rb.Hash,
		ParentHash: rb.ParentHash,
		Timestamp:  uint64(rb.Timestamp),
		GasLimit:   uint64(rb.GasLimit),
		GasUsed:    uint64(rb.GasUsed),
		BaseFee:    (*big.Int)(rb.BaseFee),
		Miner:      rb.Miner,
		ExtraData:  rb.ExtraData,
		TxCount:    len(rb.Transactions),
	}
	if rb.ProofOfAuthorityData != nil {
		b.ProofOfAuthorityData = *rb.ProofOfAuthorityData
	}

	if f.isPoA() {
		if b.ProofOfAuthorityData == nil {
			b.ProofOfAuthorityData = b.ExtraData
		}
		b.ExtraData = nil
		return b, nil
	}
	if len(b.ExtraData) > maxExtraDataLength {
		return nil, fmt.Errorf("block %s has %d bytes of extraData: %w", id, len(b.ExtraData), ErrExtraDataLength)
	}
	return b, nil
}

// detectPoA inspects the genesis and latest blocks and switches to proof-of-authority mode
// when either of them looks like a proof-of-authority block.
func (f *blockFetcher) detectPoA(ctx context.Context, c *rpc.Client) (bool, error) {
	if f.isPoA() {
		return true, nil
	}
	for _, id := range []string{"0x0", "latest"} {
		b, err := f.fetch(ctx, c, id)
		switch {
		case errors.Is(err, ErrExtraDataLength):
			f.setPoA()
			return true, nil
		case err != nil:
			return false, err
		case b.ProofOfAuthorityData != nil:
			f.setPoA()
			return true, nil
		}
	}
	return false, nil
}

// blockID renders a block number for eth_getBlockByNumber; nil means the latest block.
func blockID(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}
