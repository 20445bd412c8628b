package ganache

import (
	"context"
	"fmt"
	"sort"

	"github.com/celestiaorg/tastora-ganache/framework/types"
)

// LocalNetwork is the name of the network served by a plain local node.
const LocalNetwork = "local"

// Network is an (ecosystem, network) pair the provider can serve.
type Network struct {
	Ecosystem string
	Name      string
}

func (n Network) String() string { return n.Ecosystem + ":" + n.Name }

var networks = []Network{
	{Ecosystem: "ethereum", Name: LocalNetwork},
	{Ecosystem: "ethereum", Name: "mainnet-fork"},
	{Ecosystem: "ethereum", Name: "sepolia-fork"},
	{Ecosystem: "ethereum", Name: "holesky-fork"},
	{Ecosystem: "arbitrum", Name: "mainnet-fork"},
	{Ecosystem: "arbitrum", Name: "sepolia-fork"},
	{Ecosystem: "optimism", Name: "mainnet-fork"},
	{Ecosystem: "optimism", Name: "sepolia-fork"},
	{Ecosystem: "polygon", Name: "mainnet-fork"},
	{Ecosystem: "polygon", Name: "amoy-fork"},
	{Ecosystem: "base", Name: "mainnet-fork"},
	{Ecosystem: "base", Name: "sepolia-fork"},
}

// Networks returns every network the provider registers for.
func Networks() []Network {
	out := make([]Network, len(networks))
	copy(out, networks)
	return out
}

// Register registers factory with the host registry for every supported network.
func Register(registry types.ProviderRegistry, factory types.ProviderFactory) error {
	for _, n := range networks {
		if err := registry.RegisterProvider(n.Ecosystem, n.Name, ProviderName, factory); err != nil {
			return fmt.Errorf("failed to register %s for %s: %w", ProviderName, n, err)
		}
	}
	return nil
}

// Factory returns a ProviderFactory that builds providers from base, a builder whose
// network is replaced for every call. The builder is copied, so base may be reused.
func Factory(base *ProviderBuilder) types.ProviderFactory {
	return func(ecosystem, network string) (types.TestProvider, error) {
		b := *base
		p, err := b.WithNetwork(ecosystem, network).Build()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// StaticUpstreams resolves upstream providers from a fixed name to URL map. An empty
// provider name selects the entry keyed "<ecosystem>:<network>", then "<network>".
type StaticUpstreams map[string]string

var _ types.UpstreamResolver = StaticUpstreams(nil)

// ResolveUpstream returns the upstream named providerName, or the network's default.
func (s StaticUpstreams) ResolveUpstream(_ context.Context, ecosystem, network, providerName string) (types.Upstream, error) {
	if providerName != "" {
		url, ok := s[providerName]
		if !ok {
			return types.Upstream{}, fmt.Errorf("unknown upstream provider %q, known: %v", providerName, s.names())
		}
		return types.Upstream{Name: providerName, URL: url}, nil
	}
	for _, key := range []string{ecosystem + ":" + network, network} {
		if url, ok := s[key]; ok {
			return types.Upstream{Name: key, URL: url}, nil
		}
	}
	return types.Upstream{}, fmt.Errorf("no default upstream provider for %s:%s", ecosystem, network)
}

func (s StaticUpstreams) names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
