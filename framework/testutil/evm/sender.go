package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// defaultGasLimit is used when gas estimation fails, so that failing transactions can
// still be mined and inspected.
const defaultGasLimit = 300_000

// Sender signs transactions with a single private key and submits them to a node.
type Sender struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

// NewSender resolves the chain ID of client and parses privKeyHex (with or without 0x).
func NewSender(ctx context.Context, client *ethclient.Client, privKeyHex string) (*Sender, error) {
	key, err := parseHexPrivKey(privKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	return &Sender{
		client:  client,
		chainID: chainID,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// From returns the sending address.
func (s *Sender) From() common.Address { return s.from }

// SignTx builds and signs a legacy transaction. A nil to deploys data as init code.
func (s *Sender) SignTx(ctx context.Context, to *common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.from, To: to, Value: value, Data: data, GasPrice: gasPrice,
	})
	if err != nil {
		gasLimit = defaultGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// Send signs and submits a transaction and returns its hash.
func (s *Sender) Send(ctx context.Context, to *common.Address, value *big.Int, data []byte) (common.Hash, error) {
	tx, err := s.SignTx(ctx, to, value, data)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return tx.Hash(), nil
}

// SendFunctionTx packs the given ABI method and args and sends them to contract.
func (s *Sender) SendFunctionTx(ctx context.Context, contract common.Address, abiJSON []byte, method string, args ...interface{}) (common.Hash, error) {
	data, err := packFunctionCall(abiJSON, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	return s.Send(ctx, &contract, nil, data)
}

// Deploy sends initCode as a contract creation and waits for its receipt.
func (s *Sender) Deploy(ctx context.Context, initCode []byte) (common.Address, error) {
	txHash, err := s.Send(ctx, nil, nil, initCode)
	if err != nil {
		return common.Address{}, err
	}
	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("deployment receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, fmt.Errorf("deployment %s failed", txHash)
	}
	return receipt.ContractAddress, nil
}

// packFunctionCall encodes an ABI method call with the given args.
func packFunctionCall(abiJSON []byte, method string, args ...interface{}) ([]byte, error) {
	a, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// parseHexPrivKey parses a hex private key string into an ECDSA key.
func parseHexPrivKey(h string) (*ecdsa.PrivateKey, error) {
	if len(h) > 1 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	pk, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return pk, nil
}
