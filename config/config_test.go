package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/crypto"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func validPlatform(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.FileExists(t, path)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, "escrow-local", cfg.NetworkName)
	require.Equal(t, uint32(600), cfg.FeeBps)
	require.NotEmpty(t, cfg.PlatformAccount)
	require.Len(t, cfg.Assets, 1)
	require.Equal(t, "USDX", cfg.Assets[0].Symbol)

	_, err = cfg.PlatformAddress()
	require.NoError(t, err)

	// The generated file round-trips.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PlatformAccount, reloaded.PlatformAccount)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `PlatformAccount = "`+validPlatform(t)+`"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, uint32(600), cfg.FeeBps)
	require.Equal(t, filepath.Join(filepath.Dir(path), "escrowd-data"), cfg.DataDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	platform := validPlatform(t)

	_, err := Load(writeConfig(t, `PlatformAccount = "not-bech32"`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
PlatformAccount = "`+platform+`"
FeeBps = 10001
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
PlatformAccount = "`+platform+`"

[[Assets]]
Symbol = ""
Name = "Nameless"
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
PlatformAccount = "`+platform+`"

[[Alloc]]
Address = "junk"
Asset = "USDX"
Amount = "100"
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
PlatformAccount = "`+platform+`"

[[Alloc]]
Address = "`+platform+`"
Asset = "USDX"
Amount = "not-a-number"
`))
	require.Error(t, err)
}

func TestGenesisConversion(t *testing.T) {
	platform := validPlatform(t)
	funded := validPlatform(t)
	cfg, err := Load(writeConfig(t, `
PlatformAccount = "`+platform+`"

[[Assets]]
Symbol = "USDX"
Name = "Synthetic dollar"
Decimals = 6

[[Alloc]]
Address = "`+funded+`"
Asset = "USDX"
Amount = "1000000"
`))
	require.NoError(t, err)

	assets := cfg.GenesisAssets()
	require.Len(t, assets, 1)
	require.Equal(t, "USDX", assets[0].Symbol)
	require.Equal(t, uint8(6), assets[0].Decimals)

	alloc, err := cfg.GenesisAlloc()
	require.NoError(t, err)
	require.Len(t, alloc, 1)
	require.Equal(t, "USDX", alloc[0].Asset)
	require.Equal(t, int64(1_000_000), alloc[0].Amount.Int64())

	decoded, err := crypto.DecodeAddress(funded)
	require.NoError(t, err)
	require.Equal(t, decoded.Bytes(), alloc[0].Address[:])
}
