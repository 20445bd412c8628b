package ganache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/celestiaorg/tastora-ganache/framework/types"
)

// ErrNotConnected is returned when the request URI is needed before Connect has bound a port.
var ErrNotConnected = &types.ProviderError{Msg: "can't build URI before Connect() is called"}

// ErrExtraDataLength is returned when a block's extraData exceeds the 32 bytes allowed outside
// proof-of-authority chains.
var ErrExtraDataLength = errors.New("block extraData is longer than 32 bytes, the chain is likely proof-of-authority")

// NotInstalledError is returned when the ganache executable (or image) is not available.
// Startup is never retried after it.
type NotInstalledError struct {
	types.SubprocessError
}

func newNotInstalledError(err error) *NotInstalledError {
	return &NotInstalledError{types.SubprocessError{ProviderError: types.ProviderError{
		Msg: "missing local ganache npm package, see the README for install steps",
		Err: err,
	}}}
}

// PortInUseError is returned when the port answers JSON-RPC but the server is not ganache.
type PortInUseError struct {
	Port          int
	ClientVersion string
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port '%d' already in use by another process that isn't a ganache server (client version %q)", e.Port, e.ClientVersion)
}

// NoFreePortError is returned when automatic port selection exhausts its probe budget.
type NoFreePortError struct {
	Tried []int
}

func (e *NoFreePortError) Error() string {
	ports := make([]string, len(e.Tried))
	for i, p := range e.Tried {
		ports[i] = strconv.Itoa(p)
	}
	return "unable to find an available port. ports tried: " + strings.Join(ports, ", ")
}

// ConfigError is a user-facing configuration problem. It is surfaced immediately.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "invalid ganache configuration: " + e.Msg + ": " + e.Err.Error()
	}
	return "invalid ganache configuration: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// isFatalStartError reports whether a startup failure must not be retried with another port.
func isFatalStartError(err error) bool {
	var (
		notInstalled *NotInstalledError
		noPort       *NoFreePortError
		cfgErr       *ConfigError
	)
	return errors.As(err, &notInstalled) || errors.As(err, &noPort) || errors.As(err, &cfgErr)
}
