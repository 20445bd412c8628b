package ganache

import (
	"context"
	"testing"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type staticImpersonated []common.Address

func (s staticImpersonated) ImpersonatedAccounts() []common.Address { return s }

func TestBuildCommand(t *testing.T) {
	impersonated := common.HexToAddress("0x00000000219ab540356cBB839Cbe05303d7705Fa")
	logger, logs := observedLogger()

	b := newTestBuilder(t, LocalNetwork, newFakeLauncher(t)).
		WithAccounts(types.AccountsConfig{
			Mnemonic:         "test test test test test test test test test test test junk",
			NumberOfAccounts: 5,
			HDPath:           "m/44'/60'/0'/{}",
		}).
		WithImpersonatedAccounts(staticImpersonated{impersonated}).
		WithLogger(logger)
	b.cfg.Chain.Hardfork = Shanghai
	b.cfg.Miner.GasPrice = 0
	b.cfg.Wallet.UnlockedAccounts = []string{
		"0x1e59ce931B4CFea3fe4B875411e280e173cB7A9C",
		"4096",
		"not-an-address",
	}

	p, err := b.Build()
	require.NoError(t, err)
	p.port = 8555

	args, err := p.buildCommand(context.Background())
	require.NoError(t, err)

	flags := parseArgs(args)
	require.Equal(t, []string{"8555"}, flags["server.port"])
	require.Equal(t, []string{"test test test test test test test test test test test junk"}, flags["wallet.mnemonic"])
	require.Equal(t, []string{"5"}, flags["wallet.totalAccounts"])
	require.Equal(t, []string{"m/44'/60'/0'"}, flags["wallet.hdPath"])
	require.Equal(t, []string{"shanghai"}, flags["chain.hardfork"])
	require.Equal(t, []string{"0"}, flags["miner.defaultGasPrice"])
	require.Equal(t, []string{"true"}, flags["chain.vmErrorsOnRPCResponse"])
	require.Equal(t, []string{
		common.HexToAddress("0x1e59ce931B4CFea3fe4B875411e280e173cB7A9C").Hex(),
		"0x0000000000000000000000000000000000001000",
		impersonated.Hex(),
	}, flags["wallet.unlockedAccounts"])
	require.NotContains(t, flags, "fork.url")

	invalid := logs.FilterMessage("ignoring invalid unlocked account")
	require.Equal(t, 1, invalid.Len())
	require.Equal(t, zapcore.ErrorLevel, invalid.All()[0].Level)
}

func TestBuildCommandDefaults(t *testing.T) {
	p, err := newTestBuilder(t, LocalNetwork, newFakeLauncher(t)).Build()
	require.NoError(t, err)
	p.port = DefaultPort

	args, err := p.buildCommand(context.Background())
	require.NoError(t, err)

	flags := parseArgs(args)
	require.Equal(t, []string{"m/44'/60'/0'/0"}, flags["wallet.hdPath"])
	require.Equal(t, []string{"10"}, flags["wallet.totalAccounts"])
	require.Equal(t, []string{"london"}, flags["chain.hardfork"])
	require.Equal(t, []string{"2000000000"}, flags["miner.defaultGasPrice"])
	require.NotContains(t, flags, "wallet.unlockedAccounts")
}

func TestParseAccount(t *testing.T) {
	tests := []struct {
		in   string
		want common.Address
		ok   bool
	}{
		{in: "0x1e59ce931B4CFea3fe4B875411e280e173cB7A9C", want: common.HexToAddress("0x1e59ce931B4CFea3fe4B875411e280e173cB7A9C"), ok: true},
		{in: "1e59ce931b4cfea3fe4b875411e280e173cb7a9c", want: common.HexToAddress("0x1e59ce931B4CFea3fe4B875411e280e173cB7A9C"), ok: true},
		{in: "1", want: common.HexToAddress("0x01"), ok: true},
		{in: " 255 ", want: common.HexToAddress("0xff"), ok: true},
		{in: "1461501637330902918203684832716283019655932542976", ok: false}, // 2^160
		{in: "0x1234", ok: false},
		{in: "", ok: false},
		{in: "vitalik.eth", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseAccount(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}
