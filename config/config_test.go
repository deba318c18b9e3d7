package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vportnov.me/arbot/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"chain_id": 43114,
		"rpc_endpoint": "http://localhost:9650",
		"address_book_path": "avalanche.yaml"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(43114), cfg.ChainID)
	assert.Equal(t, "avalanche.yaml", cfg.AddressBookPath)
	// Unset fields keep the defaults.
	assert.Equal(t, "500000000000", cfg.MaxGasPrice.String())
	assert.Equal(t, 40, cfg.RPCRateLimit.BurstSize)
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"chain_id": 0,
		"rpc_endpoint": "",
		"address_book_path": ""
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_id")
	assert.Contains(t, err.Error(), "rpc_endpoint")
	assert.Contains(t, err.Error(), "address_book_path")
}

const sampleBook = `
routers:
  uniswapv3:
    address: "0x1111111111111111111111111111111111111111"
    fee_or_bin_step: 3000
  sushiv3:
    address: "0x2222222222222222222222222222222222222222"
    fee_or_bin_step: 3000
  pancakev3:
    address: "0x3333333333333333333333333333333333333333"
    fee_or_bin_step: 2500
  joelb:
    address: "0x4444444444444444444444444444444444444444"
    fee_or_bin_step: 25
tokens:
  asset_x: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
  asset_q: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
pairs:
  uniswapv3:
    address: "0x5555555555555555555555555555555555555555"
    token0: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
executor: "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
owner: "0xcccccccccccccccccccccccccccccccccccccccc"
`

func TestLoadAddressBook(t *testing.T) {
	path := writeFile(t, "addresses.yaml", sampleBook)

	book, err := LoadAddressBook(path)
	require.NoError(t, err)

	addrs := book.RouterAddresses()
	assert.Equal(t, "0x1111111111111111111111111111111111111111", addrs.UniswapV3.Hex())
	assert.NotEqual(t, addrs.UniswapV3, addrs.JoeLB)

	fee, err := book.FeeOrBinStep(types.RouterJoeLB)
	require.NoError(t, err)
	assert.Equal(t, uint32(25), fee)

	pairs, err := book.PairConfigs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, book.TokenQ(), pairs[types.RouterUniswapV3].Token0)
}

func TestLoadAddressBookRejectsBadEntries(t *testing.T) {
	path := writeFile(t, "addresses.yaml", `
routers:
  uniswapv3:
    address: "not-an-address"
tokens:
  asset_x: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
  asset_q: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
executor: "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
owner: "0xcccccccccccccccccccccccccccccccccccccccc"
`)

	_, err := LoadAddressBook(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routers.uniswapv3")
	assert.Contains(t, err.Error(), "asset_x and asset_q must differ")
}
