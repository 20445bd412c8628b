package evm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CallFunction performs a read-only eth_call to contract, packing the method and args with
// the provided ABI JSON. It returns the unpacked outputs in ABI order.
func CallFunction(ctx context.Context, client *ethclient.Client, contract common.Address, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	a, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract: %w", err)
	}
	outputs, err := a.Methods[method].Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return outputs, nil
}
