package types

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotID identifies a node-side state checkpoint. The value is opaque to callers.
type SnapshotID string

// Provider is the lifecycle surface a host framework drives for a network backend.
//
// different Providers can be implemented to enable different node implementations to back the same
// (ecosystem, network) pair.
type Provider interface {
	// Name returns the provider's registered name.
	Name() string
	// Connect starts or attaches to the backing node and verifies it is reachable.
	Connect(ctx context.Context) error
	// Disconnect releases the connection and terminates any owned node process.
	Disconnect(ctx context.Context) error
	// IsConnected reports whether a verified connection is currently held.
	IsConnected() bool
	// URI returns the node's request URI. It fails before Connect has bound a port.
	URI() (string, error)
	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (*big.Int, error)
}

// TestProvider extends Provider with the development-network controls used by tests.
type TestProvider interface {
	Provider

	// Mine mines numBlocks blocks, one request per block.
	Mine(ctx context.Context, numBlocks int) error
	// Snapshot records the current chain state and returns its identifier.
	Snapshot(ctx context.Context) (SnapshotID, error)
	// Revert restores a snapshot. An unknown identifier yields false and no error.
	Revert(ctx context.Context, id SnapshotID) (bool, error)
	// SetTimestamp sets the node clock, in seconds since the epoch.
	SetTimestamp(ctx context.Context, timestamp uint64) error
	// UnlockAccount lets the node sign for address without its key.
	UnlockAccount(ctx context.Context, address common.Address) (bool, error)
	// GetTransactionTrace fetches the step trace of a mined transaction.
	GetTransactionTrace(ctx context.Context, txHash common.Hash) ([]TraceFrame, error)
	// GetCallTree reconstructs the nested calls made by a mined transaction.
	GetCallTree(ctx context.Context, txHash common.Hash) (*CallTreeNode, error)
}

// ProviderFactory creates a provider for one (ecosystem, network) pair.
type ProviderFactory func(ecosystem, network string) (TestProvider, error)

// ProviderRegistry is the host framework's plugin registry.
type ProviderRegistry interface {
	// RegisterProvider makes factory available for the given ecosystem and network.
	RegisterProvider(ecosystem, network, providerName string, factory ProviderFactory) error
}
