package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderError is a failure in a network provider that is not caused by transaction execution.
type ProviderError struct {
	Msg string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SubprocessError is a ProviderError raised while launching or waiting on a node process.
type SubprocessError struct {
	ProviderError
}

// NewSubprocessError returns a SubprocessError with the given message and cause.
func NewSubprocessError(msg string, err error) *SubprocessError {
	return &SubprocessError{ProviderError{Msg: msg, Err: err}}
}

// TransactionFailedMessage is used when a contract reverts without a reason.
const TransactionFailedMessage = "Transaction failed."

// ContractLogicError is a revert raised by contract code.
type ContractLogicError struct {
	// RevertMessage is the human-readable revert reason, empty for a bare revert.
	RevertMessage string
	TxHash        common.Hash
	// Source is source-level context attached by an ErrorEnricher.
	Source string
	Base   error
}

func (e *ContractLogicError) Error() string {
	msg := e.RevertMessage
	if msg == "" {
		msg = TransactionFailedMessage
	}
	if e.Source != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Source)
	}
	return msg
}

func (e *ContractLogicError) Unwrap() error { return e.Base }

// VirtualMachineError is an execution failure that could not be attributed to contract logic.
type VirtualMachineError struct {
	Message string
	Base    error
}

func (e *VirtualMachineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Base != nil {
		return e.Base.Error()
	}
	return "virtual machine error"
}

func (e *VirtualMachineError) Unwrap() error { return e.Base }
