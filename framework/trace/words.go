package trace

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
)

const wordSize = 32

// stackWord returns the n-th word from the top of the frame's stack (0 is the top).
func stackWord(f types.TraceFrame, n int) (*big.Int, error) {
	idx := len(f.Stack) - 1 - n
	if idx < 0 {
		return nil, fmt.Errorf("%s at pc %d: stack has %d items, need %d", f.Op, f.PC, len(f.Stack), n+1)
	}
	v, ok := new(big.Int).SetString(strip0x(f.Stack[idx]), 16)
	if !ok {
		return nil, fmt.Errorf("%s at pc %d: invalid stack word %q", f.Op, f.PC, f.Stack[idx])
	}
	return v, nil
}

func stackAddress(f types.TraceFrame, n int) (common.Address, error) {
	v, err := stackWord(f, n)
	if err != nil {
		return common.Address{}, err
	}
	return common.BigToAddress(v), nil
}

// memoryBytes concatenates the frame's memory words.
func memoryBytes(f types.TraceFrame) ([]byte, error) {
	out := make([]byte, 0, len(f.Memory)*wordSize)
	for i, w := range f.Memory {
		b, err := hex.DecodeString(strip0x(w))
		if err != nil {
			return nil, fmt.Errorf("memory word %d at pc %d: %w", i, f.PC, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// memorySlice returns memory[offset:offset+size], zero-filled past the end of memory.
func memorySlice(f types.TraceFrame, offset, size *big.Int) ([]byte, error) {
	if size.Sign() == 0 {
		return []byte{}, nil
	}
	if !offset.IsUint64() || !size.IsUint64() || size.Uint64() > 1<<24 {
		return nil, fmt.Errorf("memory range out of bounds at pc %d", f.PC)
	}
	mem, err := memoryBytes(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size.Uint64())
	start := offset.Uint64()
	if start < uint64(len(mem)) {
		copy(out, mem[start:])
	}
	return out, nil
}

func strip0x(s string) string {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return "0"
	}
	return s
}
