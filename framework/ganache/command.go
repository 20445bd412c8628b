package ganache

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// hdPath returns the derivation path without the trailing index placeholder.
func (p *Provider) hdPath() string {
	return strings.ReplaceAll(p.accounts.HDPath, "/{}", "")
}

// buildCommand returns the ganache arguments for the bound port, excluding the executable.
func (p *Provider) buildCommand(ctx context.Context) ([]string, error) {
	args := []string{
		"--server.port", strconv.Itoa(p.port),
		"--wallet.mnemonic", p.accounts.Mnemonic,
		"--wallet.totalAccounts", strconv.Itoa(p.accounts.NumberOfAccounts),
		"--wallet.hdPath", p.hdPath(),
		"--chain.hardfork", string(p.cfg.Chain.Hardfork),
		"--miner.defaultGasPrice", strconv.FormatUint(p.cfg.Miner.GasPrice, 10),
		"--chain.vmErrorsOnRPCResponse", "true",
	}
	for _, addr := range p.UnlockedAccounts() {
		args = append(args, "--wallet.unlockedAccounts", addr.Hex())
	}

	if p.fork != nil {
		forkArgs, err := p.fork.args(ctx, p.uri())
		if err != nil {
			return nil, err
		}
		args = append(args, forkArgs...)
	}
	return args, nil
}

// UnlockedAccounts returns the configured unlocked accounts followed by the accounts
// impersonated through the host's account manager. Numeric entries are taken as integers
// and zero-padded into an address; entries that are not addresses are logged and skipped.
func (p *Provider) UnlockedAccounts() []common.Address {
	var out []common.Address
	for _, entry := range p.cfg.Wallet.UnlockedAccounts {
		addr, ok := parseAccount(entry)
		if !ok {
			p.logger.Error("ignoring invalid unlocked account", zap.String("account", entry))
			continue
		}
		out = append(out, addr)
	}
	if p.impersonated != nil {
		out = append(out, p.impersonated.ImpersonatedAccounts()...)
	}
	return out
}

func parseAccount(entry string) (common.Address, bool) {
	entry = strings.TrimSpace(entry)
	if isDecimal(entry) {
		n, ok := new(big.Int).SetString(entry, 10)
		if !ok || n.BitLen() > 160 {
			return common.Address{}, false
		}
		return common.BigToAddress(n), true
	}
	if !common.IsHexAddress(entry) {
		return common.Address{}, false
	}
	return common.HexToAddress(entry), true
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
