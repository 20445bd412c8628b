package types

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AccountsConfig describes the deterministic test accounts the node should generate.
type AccountsConfig struct {
	Mnemonic         string
	NumberOfAccounts int
	// HDPath is the derivation path, optionally ending in a "/{}" index placeholder.
	HDPath string
}

// DefaultAccountsConfig returns the conventional development mnemonic and derivation path.
func DefaultAccountsConfig() AccountsConfig {
	return AccountsConfig{
		Mnemonic:         "test test test test test test test test test test test junk",
		NumberOfAccounts: 10,
		HDPath:           "m/44'/60'/0'/0/{}",
	}
}

// ImpersonatedAccounts is implemented by the host's account manager to expose
// addresses that were impersonated over RPC and must stay unlocked across restarts.
type ImpersonatedAccounts interface {
	ImpersonatedAccounts() []common.Address
}

// ReceiptSource returns the receipt of a mined transaction.
type ReceiptSource interface {
	GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)
}

// Upstream is a resolved reference network used as the source of a fork.
type Upstream struct {
	// Name is the upstream provider's name, e.g. "alchemy".
	Name string
	// URL is the upstream's JSON-RPC endpoint.
	URL string
}

// UpstreamResolver resolves the upstream provider of a network. An empty providerName
// selects the network's default upstream.
type UpstreamResolver interface {
	ResolveUpstream(ctx context.Context, ecosystem, network, providerName string) (Upstream, error)
}

// ErrorEnricher maps a contract logic failure to source-level context, typically via
// compiler output. Implementations return the error to surface.
type ErrorEnricher interface {
	EnrichError(err *ContractLogicError) error
}
