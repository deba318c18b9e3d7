package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
)

// AddressBook is the per-network deployment: the four router contracts, the
// traded token pair, and the atomic executor. Every address the engine
// touches comes from here; nothing is hardcoded.
type AddressBook struct {
	Routers struct {
		UniswapV3 RouterEntry `yaml:"uniswapv3"`
		SushiV3   RouterEntry `yaml:"sushiv3"`
		PancakeV3 RouterEntry `yaml:"pancakev3"`
		JoeLB     RouterEntry `yaml:"joelb"`
	} `yaml:"routers"`
	Tokens struct {
		AssetX string `yaml:"asset_x"` // profit is measured in this asset
		AssetQ string `yaml:"asset_q"` // intermediate quote asset
	} `yaml:"tokens"`
	// Pairs back the reserve quoter; optional when only the atomic path or
	// a dry run is used
	Pairs    map[string]PairEntry `yaml:"pairs"`
	Executor string               `yaml:"executor"`
	Owner    string               `yaml:"owner"`
}

// PairEntry locates one router's pool for the traded pair.
type PairEntry struct {
	Address string `yaml:"address"`
	Token0  string `yaml:"token0"`
}

// RouterEntry pairs a router deployment with its pool parameter: a fee tier
// for the concentrated-liquidity routers, a bin step for Liquidity Book.
type RouterEntry struct {
	Address      string `yaml:"address"`
	FeeOrBinStep uint32 `yaml:"fee_or_bin_step"`
}

// LoadAddressBook reads and validates the YAML deployment book.
func LoadAddressBook(path string) (*AddressBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}

	var book AddressBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to parse address book: %w", err)
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}
	return &book, nil
}

func (b *AddressBook) Validate() error {
	var errors []string

	for _, entry := range []struct {
		name string
		addr string
	}{
		{"routers.uniswapv3", b.Routers.UniswapV3.Address},
		{"routers.sushiv3", b.Routers.SushiV3.Address},
		{"routers.pancakev3", b.Routers.PancakeV3.Address},
		{"routers.joelb", b.Routers.JoeLB.Address},
		{"tokens.asset_x", b.Tokens.AssetX},
		{"tokens.asset_q", b.Tokens.AssetQ},
		{"executor", b.Executor},
		{"owner", b.Owner},
	} {
		if !common.IsHexAddress(entry.addr) {
			errors = append(errors, fmt.Sprintf("%s is not a valid address", entry.name))
		}
	}
	if b.Tokens.AssetX == b.Tokens.AssetQ {
		errors = append(errors, "asset_x and asset_q must differ")
	}
	for name, pair := range b.Pairs {
		if _, err := types.ParseRouter(name); err != nil {
			errors = append(errors, fmt.Sprintf("pairs.%s: unknown router", name))
		}
		if !common.IsHexAddress(pair.Address) {
			errors = append(errors, fmt.Sprintf("pairs.%s.address is not a valid address", name))
		}
		if !common.IsHexAddress(pair.Token0) {
			errors = append(errors, fmt.Sprintf("pairs.%s.token0 is not a valid address", name))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("address book validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// RouterAddresses flattens the book into the codec's address set.
func (b *AddressBook) RouterAddresses() router.Addresses {
	return router.Addresses{
		UniswapV3: common.HexToAddress(b.Routers.UniswapV3.Address),
		SushiV3:   common.HexToAddress(b.Routers.SushiV3.Address),
		PancakeV3: common.HexToAddress(b.Routers.PancakeV3.Address),
		JoeLB:     common.HexToAddress(b.Routers.JoeLB.Address),
	}
}

// FeeOrBinStep returns the configured pool parameter for a router.
func (b *AddressBook) FeeOrBinStep(r types.RouterIdentity) (uint32, error) {
	switch r {
	case types.RouterUniswapV3:
		return b.Routers.UniswapV3.FeeOrBinStep, nil
	case types.RouterSushiV3:
		return b.Routers.SushiV3.FeeOrBinStep, nil
	case types.RouterPancakeV3:
		return b.Routers.PancakeV3.FeeOrBinStep, nil
	case types.RouterJoeLB:
		return b.Routers.JoeLB.FeeOrBinStep, nil
	}
	return 0, fmt.Errorf("unknown router %s", r)
}

// TokenX returns the base asset address.
func (b *AddressBook) TokenX() common.Address {
	return common.HexToAddress(b.Tokens.AssetX)
}

// TokenQ returns the intermediate asset address.
func (b *AddressBook) TokenQ() common.Address {
	return common.HexToAddress(b.Tokens.AssetQ)
}

// ExecutorAddress returns the atomic executor deployment.
func (b *AddressBook) ExecutorAddress() common.Address {
	return common.HexToAddress(b.Executor)
}

// OwnerAddress returns the account the executor accepts calls from.
func (b *AddressBook) OwnerAddress() common.Address {
	return common.HexToAddress(b.Owner)
}

// PairConfigs flattens the pairs section into the reserve quoter's form.
func (b *AddressBook) PairConfigs() (map[types.RouterIdentity]quote.PairConfig, error) {
	pairs := make(map[types.RouterIdentity]quote.PairConfig, len(b.Pairs))
	for name, entry := range b.Pairs {
		r, err := types.ParseRouter(name)
		if err != nil {
			return nil, err
		}
		pairs[r] = quote.PairConfig{
			Pair:   common.HexToAddress(entry.Address),
			Token0: common.HexToAddress(entry.Token0),
		}
	}
	return pairs, nil
}
