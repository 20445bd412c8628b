package ganache

import (
	"context"
	"errors"
	"testing"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/stretchr/testify/require"
)

type recordingRegistry struct {
	entries map[string]types.ProviderFactory
	failOn  string
}

func (r *recordingRegistry) RegisterProvider(ecosystem, network, providerName string, factory types.ProviderFactory) error {
	key := ecosystem + ":" + network + ":" + providerName
	if key == r.failOn {
		return errors.New("already registered")
	}
	if r.entries == nil {
		r.entries = make(map[string]types.ProviderFactory)
	}
	r.entries[key] = factory
	return nil
}

func TestRegister(t *testing.T) {
	base := newTestBuilder(t, LocalNetwork, newFakeLauncher(t)).
		WithUpstreamResolver(StaticUpstreams{"mainnet": "https://mainnet.example.com"})

	reg := &recordingRegistry{}
	require.NoError(t, Register(reg, Factory(base)))
	require.Len(t, reg.entries, len(Networks()))
	require.Contains(t, reg.entries, "ethereum:local:ganache")
	require.Contains(t, reg.entries, "ethereum:mainnet-fork:ganache")
	require.Contains(t, reg.entries, "polygon:amoy-fork:ganache")

	provider, err := reg.entries["ethereum:mainnet-fork:ganache"]("ethereum", "mainnet-fork")
	require.NoError(t, err)
	p, ok := provider.(*Provider)
	require.True(t, ok)
	require.True(t, p.IsFork())
	require.Equal(t, "mainnet-fork", p.Network())
	require.Equal(t, ProviderName, p.Name())

	// the base builder is not modified by the factory
	require.Equal(t, LocalNetwork, base.network)

	t.Run("registry failure", func(t *testing.T) {
		err := Register(&recordingRegistry{failOn: "optimism:mainnet-fork:ganache"}, Factory(base))
		require.ErrorContains(t, err, "optimism:mainnet-fork")
	})

	t.Run("factory error", func(t *testing.T) {
		noUpstreams := newTestBuilder(t, LocalNetwork, newFakeLauncher(t))
		provider, err := Factory(noUpstreams)("base", "sepolia-fork")
		require.Error(t, err)
		require.Nil(t, provider)
	})
}

func TestNetworksAreCopied(t *testing.T) {
	n := Networks()
	n[0].Name = "changed"
	require.Equal(t, LocalNetwork, Networks()[0].Name)
	require.Equal(t, "ethereum:local", Networks()[0].String())
}

func TestStaticUpstreams(t *testing.T) {
	upstreams := StaticUpstreams{
		"alchemy":          "https://alchemy.example.com",
		"ethereum:mainnet": "https://eth.example.com",
		"mainnet":          "https://any-mainnet.example.com",
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		ecosystem string
		network   string
		provider  string
		want      types.Upstream
		errMsg    string
	}{
		{
			name: "named provider", ecosystem: "ethereum", network: "mainnet", provider: "alchemy",
			want: types.Upstream{Name: "alchemy", URL: "https://alchemy.example.com"},
		},
		{
			name: "ecosystem default", ecosystem: "ethereum", network: "mainnet",
			want: types.Upstream{Name: "ethereum:mainnet", URL: "https://eth.example.com"},
		},
		{
			name: "network default", ecosystem: "arbitrum", network: "mainnet",
			want: types.Upstream{Name: "mainnet", URL: "https://any-mainnet.example.com"},
		},
		{
			name: "unknown provider", ecosystem: "ethereum", network: "mainnet", provider: "infura",
			errMsg: `unknown upstream provider "infura", known: [alchemy ethereum:mainnet mainnet]`,
		},
		{
			name: "no default", ecosystem: "ethereum", network: "sepolia",
			errMsg: "no default upstream provider for ethereum:sepolia",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := upstreams.ResolveUpstream(ctx, tt.ecosystem, tt.network, tt.provider)
			if tt.errMsg != "" {
				require.EqualError(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
