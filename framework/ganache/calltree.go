package ganache

import (
	"context"
	"fmt"

	"github.com/celestiaorg/tastora-ganache/framework/trace"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	txBaseGas        = 21_000
	txDataZeroGas    = 4
	txDataNonZeroGas = 16
)

// GetCallTree rebuilds the call tree of a mined transaction from its receipt and step trace.
func (p *Provider) GetCallTree(ctx context.Context, txHash common.Hash) (*types.CallTreeNode, error) {
	receipts := p.receipts
	if receipts == nil {
		_, eth, err := p.client()
		if err != nil {
			return nil, err
		}
		receipts = NewEthReceiptSource(eth)
	}

	receipt, err := receipts.GetReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt of %s: %w", txHash, err)
	}
	frames, err := p.TraceSource(txHash)(ctx)
	if err != nil {
		return nil, err
	}

	root := trace.Root{
		CallType: types.CallTypeCall,
		Address:  receipt.Receiver,
		Value:    receipt.Value,
		Calldata: receipt.Data,
		GasLimit: receipt.GasLimit,
		GasCost:  methodGasCost(receipt),
		Failed:   receipt.Failed,
	}
	if receipt.ContractAddress != nil {
		root.CallType = types.CallTypeCreate
		root.Address = *receipt.ContractAddress
	}

	tree, err := trace.BuildCallTree(frames, root)
	if err != nil {
		return nil, fmt.Errorf("failed to build call tree of %s: %w", txHash, err)
	}
	// ganache reports a reverted sub-call as a failure of the whole transaction.
	tree.Failed = receipt.Failed
	tree.TxHash = txHash
	return tree, nil
}

// methodGasCost is the gas used by execution, excluding the intrinsic transaction cost.
func methodGasCost(r *types.Receipt) uint64 {
	intrinsic := uint64(txBaseGas)
	for _, b := range r.Data {
		if b == 0 {
			intrinsic += txDataZeroGas
		} else {
			intrinsic += txDataNonZeroGas
		}
	}
	if r.GasUsed < intrinsic {
		return 0
	}
	return r.GasUsed - intrinsic
}

// EthReceiptSource builds receipts from eth_getTransactionReceipt and eth_getTransactionByHash.
type EthReceiptSource struct {
	client *ethclient.Client
}

var _ types.ReceiptSource = (*EthReceiptSource)(nil)

// NewEthReceiptSource returns a receipt source backed by client.
func NewEthReceiptSource(client *ethclient.Client) *EthReceiptSource {
	return &EthReceiptSource{client: client}
}

// GetReceipt returns the receipt of txHash.
func (s *EthReceiptSource) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	rcpt, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	tx, _, err := s.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", txHash, err)
	}

	r := &types.Receipt{
		TxHash:   txHash,
		Sender:   sender,
		Data:     tx.Data(),
		Value:    tx.Value(),
		GasUsed:  rcpt.GasUsed,
		GasLimit: tx.Gas(),
		Failed:   rcpt.Status == ethtypes.ReceiptStatusFailed,
	}
	if to := tx.To(); to != nil {
		r.Receiver = *to
	}
	if rcpt.ContractAddress != (common.Address{}) {
		addr := rcpt.ContractAddress
		r.ContractAddress = &addr
	}
	return r, nil
}
