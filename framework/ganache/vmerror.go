package ganache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/celestiaorg/tastora-ganache/framework/trace"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	vmExceptionPrefix      = "VM Exception while processing transaction: "
	revertedVMExceptPrefix = "execution reverted: " + vmExceptionPrefix
	bareRevert             = "revert"
)

type errorOptions struct {
	frames   []types.TraceFrame
	hasTrace bool
	lookup   *bool
	enricher types.ErrorEnricher
}

// ErrorOption configures error translation.
type ErrorOption func(*errorOptions)

// WithTrace supplies the step trace of the failed transaction, used to recover the revert
// data of a bare revert.
func WithTrace(frames []types.TraceFrame) ErrorOption {
	return func(o *errorOptions) {
		o.frames = frames
		o.hasTrace = true
	}
}

// WithTraceLookup sets whether the provider may fetch the trace of the failed transaction
// when none was supplied.
func WithTraceLookup(enabled bool) ErrorOption {
	return func(o *errorOptions) {
		o.lookup = &enabled
	}
}

// WithEnricher passes contract logic errors through e.
func WithEnricher(e types.ErrorEnricher) ErrorOption {
	return func(o *errorOptions) {
		o.enricher = e
	}
}

// VirtualMachineError translates a failed node request into a ContractLogicError or
// VirtualMachineError, using the provider's error enricher.
func (p *Provider) VirtualMachineError(ctx context.Context, err error, opts ...ErrorOption) error {
	o := errorOptions{enricher: p.enricher}
	for _, opt := range opts {
		opt(&o)
	}
	lookup := p.traceLookup
	if o.lookup != nil {
		lookup = *o.lookup
	}

	msg, data, ok := payloadFromError(err)
	if !ok {
		return &types.VirtualMachineError{Base: err}
	}
	var fetch traceFetcher
	if lookup && p.IsConnected() {
		fetch = p.GetTransactionTrace
	}
	return translate(ctx, err, msg, data, o, fetch)
}

// TranslateError translates a failed node request without access to a provider.
func TranslateError(err error, opts ...ErrorOption) error {
	var o errorOptions
	for _, opt := range opts {
		opt(&o)
	}
	msg, data, ok := payloadFromError(err)
	if !ok {
		return &types.VirtualMachineError{Base: err}
	}
	return translate(context.Background(), err, msg, data, o, nil)
}

// TranslatePayload translates a raw error payload: either the message string or a map with
// "message" and optional "data" keys. base is wrapped by the returned error.
func TranslatePayload(payload any, base error, opts ...ErrorOption) error {
	var o errorOptions
	for _, opt := range opts {
		opt(&o)
	}
	var (
		msg  string
		data any
	)
	switch v := payload.(type) {
	case string:
		msg = v
	case map[string]any:
		if m, ok := v["message"]; ok && m != nil {
			msg = fmt.Sprint(m)
		}
		data = v["data"]
	default:
		return &types.VirtualMachineError{Base: base}
	}
	if base == nil {
		base = errors.New(msg)
	}
	return translate(context.Background(), base, msg, data, o, nil)
}

type traceFetcher func(ctx context.Context, txHash common.Hash) ([]types.TraceFrame, error)

// payloadFromError extracts the JSON-RPC error message and data from err.
func payloadFromError(err error) (string, any, bool) {
	if err == nil {
		return "", nil, false
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return "", nil, false
	}
	var data any
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		data = dataErr.ErrorData()
	}
	return rpcErr.Error(), data, true
}

func translate(ctx context.Context, base error, msg string, data any, o errorOptions, fetch traceFetcher) error {
	if msg == "" {
		return &types.VirtualMachineError{Base: base}
	}

	txHash, hasHash := txHashFromData(data)
	if hasHash && msg == vmExceptionPrefix+bareRevert {
		if reason, ok := recoverRevertReason(ctx, txHash, o, fetch); ok {
			msg = vmExceptionPrefix + reason
		}
	}

	var stripped bool
	for _, prefix := range []string{revertedVMExceptPrefix, vmExceptionPrefix} {
		if strings.HasPrefix(msg, prefix) {
			msg = strings.TrimPrefix(msg, prefix)
			stripped = true
			break
		}
	}
	if !stripped {
		return &types.VirtualMachineError{Message: msg, Base: base}
	}

	cle := &types.ContractLogicError{TxHash: txHash, Base: base}
	switch {
	case msg == bareRevert:
	case strings.HasPrefix(msg, bareRevert+" "):
		cle.RevertMessage = strings.TrimPrefix(msg, bareRevert+" ")
	default:
		cle.RevertMessage = msg
	}
	if o.enricher != nil {
		return o.enricher.EnrichError(cle)
	}
	return cle
}

// recoverRevertReason reads the revert data of the last trace frame. It returns the text to
// use in place of the bare revert: "revert <reason>" for an Error(string) payload, otherwise
// the hex-encoded data.
func recoverRevertReason(ctx context.Context, txHash common.Hash, o errorOptions, fetch traceFetcher) (string, bool) {
	frames := o.frames
	if !o.hasTrace {
		if fetch == nil {
			return "", false
		}
		var err error
		if frames, err = fetch(ctx, txHash); err != nil {
			return "", false
		}
	}
	if len(frames) == 0 {
		return "", false
	}

	revertData, ok := trace.RevertData(frames[len(frames)-1])
	if !ok || len(revertData) == 0 {
		return "", false
	}
	if reason, err := abi.UnpackRevert(revertData); err == nil {
		return bareRevert + " " + reason, true
	}
	return hexutil.Encode(revertData), true
}

// txHashFromData returns the transaction hash ganache attaches to execution errors.
func txHashFromData(data any) (common.Hash, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return common.Hash{}, false
	}
	s, ok := m["hash"].(string)
	if !ok || s == "" {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}
