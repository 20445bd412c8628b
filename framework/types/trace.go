package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallType is the kind of message call that opened a call tree node.
type CallType string

const (
	CallTypeCall         CallType = "CALL"
	CallTypeCallCode     CallType = "CALLCODE"
	CallTypeDelegateCall CallType = "DELEGATECALL"
	CallTypeStaticCall   CallType = "STATICCALL"
	CallTypeCreate       CallType = "CREATE"
	CallTypeCreate2      CallType = "CREATE2"
	CallTypeSelfDestruct CallType = "SELFDESTRUCT"
)

// IsCreate reports whether the call deploys a contract.
func (c CallType) IsCreate() bool {
	return c == CallTypeCreate || c == CallTypeCreate2
}

// TraceFrame is one step of EVM execution as reported by debug_traceTransaction.
//
// Stack and Memory hold 32-byte words as hex strings, in the order the node reports them
// (stack top last).
type TraceFrame struct {
	PC      uint64            `json:"pc"`
	Op      string            `json:"op"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Stack   []string          `json:"stack"`
	Memory  []string          `json:"memory"`
	Storage map[string]string `json:"storage"`
	Error   string            `json:"error,omitempty"`
}

// CallTreeNode is one call in the tree reconstructed from a transaction trace.
type CallTreeNode struct {
	CallType   CallType        `json:"callType"`
	Address    common.Address  `json:"address"`
	Value      *big.Int        `json:"value"`
	Depth      int             `json:"depth"`
	GasLimit   uint64          `json:"gasLimit"`
	GasCost    uint64          `json:"gasCost"`
	Calldata   []byte          `json:"calldata"`
	Returndata []byte          `json:"returndata"`
	Calls      []*CallTreeNode `json:"calls"`
	Failed     bool            `json:"failed"`
	TxHash     common.Hash     `json:"txHash,omitempty"`
}

// Walk visits n and every descendant depth-first, stopping early when fn returns false.
func (n *CallTreeNode) Walk(fn func(*CallTreeNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Calls {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Receipt holds the fields of a mined transaction needed to rebuild its call tree.
type Receipt struct {
	TxHash          common.Hash
	Sender          common.Address
	Receiver        common.Address
	ContractAddress *common.Address
	Data            []byte
	Value           *big.Int
	GasUsed         uint64
	GasLimit        uint64
	Failed          bool
}
