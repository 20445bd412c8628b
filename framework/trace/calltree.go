// Package trace rebuilds call trees from the step traces returned by debug_traceTransaction.
package trace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
)

// Source fetches the frames of one transaction. Every call re-issues the underlying request,
// so a Source can be consumed any number of times.
type Source func(ctx context.Context) ([]types.TraceFrame, error)

// Root describes the top-level call of a transaction, normally taken from its receipt.
type Root struct {
	CallType types.CallType
	Address  common.Address
	Value    *big.Int
	Calldata []byte
	GasLimit uint64
	// GasCost is the gas spent by the call itself, excluding intrinsic transaction costs.
	GasCost uint64
	Failed  bool
}

type openCall struct {
	node      *types.CallTreeNode
	callFrame *types.TraceFrame
	last      *types.TraceFrame
}

// BuildCallTree walks frames and nests a node for every message call and contract creation.
// Depths are taken relative to the first frame, so traces starting at either 0 or 1 are accepted.
func BuildCallTree(frames []types.TraceFrame, root Root) (*types.CallTreeNode, error) {
	value := root.Value
	if value == nil {
		value = new(big.Int)
	}
	rootNode := &types.CallTreeNode{
		CallType: root.CallType,
		Address:  root.Address,
		Value:    value,
		GasLimit: root.GasLimit,
		GasCost:  root.GasCost,
		Calldata: root.Calldata,
		Failed:   root.Failed,
	}
	if len(frames) == 0 {
		return rootNode, nil
	}

	base := frames[0].Depth
	stack := []*openCall{{node: rootNode}}

	for i := range frames {
		f := &frames[i]
		rel := f.Depth - base
		if rel < 0 {
			return nil, fmt.Errorf("frame %d: depth %d below trace start depth %d", i, f.Depth, base)
		}
		for len(stack)-1 > rel {
			if err := closeCall(stack[len(stack)-1], f); err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
		}
		if rel > len(stack)-1 {
			return nil, fmt.Errorf("frame %d: depth %d entered without a call", i, f.Depth)
		}

		top := stack[len(stack)-1]
		top.last = f

		switch {
		case isCallOp(f.Op):
			child, err := newCallNode(f, rel+1)
			if err != nil {
				return nil, err
			}
			top.node.Calls = append(top.node.Calls, child)
			stack = append(stack, &openCall{node: child, callFrame: f})
		case f.Op == "SELFDESTRUCT" || f.Op == "SUICIDE":
			beneficiary, err := stackAddress(*f, 0)
			if err != nil {
				return nil, err
			}
			top.node.Calls = append(top.node.Calls, &types.CallTreeNode{
				CallType: types.CallTypeSelfDestruct,
				Address:  beneficiary,
				Value:    new(big.Int),
				Depth:    rel + 1,
				GasCost:  f.GasCost,
			})
		case f.Op == "RETURN" || f.Op == "REVERT":
			if rd, err := returnData(*f); err == nil {
				top.node.Returndata = rd
			}
		}
	}

	for len(stack) > 1 {
		if err := closeCall(stack[len(stack)-1], nil); err != nil {
			return nil, err
		}
		stack = stack[:len(stack)-1]
	}
	return rootNode, nil
}

// RevertData returns the bytes passed to a REVERT frame, reading the offset and size operands
// from its stack.
func RevertData(f types.TraceFrame) ([]byte, bool) {
	if f.Op != "REVERT" {
		return nil, false
	}
	rd, err := returnData(f)
	if err != nil {
		return nil, false
	}
	return rd, true
}

func returnData(f types.TraceFrame) ([]byte, error) {
	offset, err := stackWord(f, 0)
	if err != nil {
		return nil, err
	}
	size, err := stackWord(f, 1)
	if err != nil {
		return nil, err
	}
	return memorySlice(f, offset, size)
}

func isCallOp(op string) bool {
	switch types.CallType(op) {
	case types.CallTypeCall, types.CallTypeCallCode, types.CallTypeDelegateCall,
		types.CallTypeStaticCall, types.CallTypeCreate, types.CallTypeCreate2:
		return true
	}
	return false
}

// newCallNode reads the call operands off the stack of the frame executing the call opcode.
func newCallNode(f *types.TraceFrame, depth int) (*types.CallTreeNode, error) {
	ct := types.CallType(f.Op)
	n := &types.CallTreeNode{CallType: ct, Depth: depth, Value: new(big.Int)}

	// operand positions from the top of the stack: value, input offset, input size
	var valueAt, inAt, sizeAt int
	switch ct {
	case types.CallTypeCreate, types.CallTypeCreate2:
		valueAt, inAt, sizeAt = 0, 1, 2
	case types.CallTypeCall, types.CallTypeCallCode:
		gas, err := stackWord(*f, 0)
		if err != nil {
			return nil, err
		}
		n.GasLimit = clampUint64(gas)
		if n.Address, err = stackAddress(*f, 1); err != nil {
			return nil, err
		}
		valueAt, inAt, sizeAt = 2, 3, 4
	default: // DELEGATECALL, STATICCALL
		gas, err := stackWord(*f, 0)
		if err != nil {
			return nil, err
		}
		n.GasLimit = clampUint64(gas)
		if n.Address, err = stackAddress(*f, 1); err != nil {
			return nil, err
		}
		valueAt, inAt, sizeAt = -1, 2, 3
	}

	if valueAt >= 0 {
		v, err := stackWord(*f, valueAt)
		if err != nil {
			return nil, err
		}
		n.Value = v
	}
	offset, err := stackWord(*f, inAt)
	if err != nil {
		return nil, err
	}
	size, err := stackWord(*f, sizeAt)
	if err != nil {
		return nil, err
	}
	if n.Calldata, err = memorySlice(*f, offset, size); err != nil {
		return nil, err
	}
	return n, nil
}

// closeCall finalises a call once execution is back in the caller. next is the first caller
// frame after the call returned, or nil when the trace ended inside the call.
func closeCall(c *openCall, next *types.TraceFrame) error {
	if c.last != nil {
		switch c.last.Op {
		case "REVERT", "INVALID":
			c.node.Failed = true
		}
		if c.last.Error != "" {
			c.node.Failed = true
		}
	}

	if next == nil {
		c.node.GasCost = c.callFrame.GasCost
		return nil
	}
	if c.callFrame.Gas > next.Gas {
		c.node.GasCost = c.callFrame.Gas - next.Gas
	}
	if c.node.CallType.IsCreate() {
		addr, err := stackAddress(*next, 0)
		if err != nil {
			return err
		}
		c.node.Address = addr
	}
	return nil
}

func clampUint64(v *big.Int) uint64 {
	if v.IsUint64() {
		return v.Uint64()
	}
	return ^uint64(0)
}
