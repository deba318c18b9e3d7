package cmd

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/config"
	"github.com/vportnov.me/arbot/engine"
	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/types"
)

func dryRunBook() *config.AddressBook {
	book := &config.AddressBook{}
	book.Routers.UniswapV3 = config.RouterEntry{Address: "0x1111111111111111111111111111111111111111", FeeOrBinStep: 3000}
	book.Routers.SushiV3 = config.RouterEntry{Address: "0x2222222222222222222222222222222222222222", FeeOrBinStep: 3000}
	book.Routers.PancakeV3 = config.RouterEntry{Address: "0x3333333333333333333333333333333333333333", FeeOrBinStep: 2500}
	book.Routers.JoeLB = config.RouterEntry{Address: "0x4444444444444444444444444444444444444444", FeeOrBinStep: 25}
	book.Tokens.AssetX = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	book.Tokens.AssetQ = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	book.Executor = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	book.Owner = "0xcccccccccccccccccccccccccccccccccccccccc"
	return book
}

// The seeded ledger must price the routers apart from each other, so a run
// without --sell-router and --buy-router has a direction to pick.
func TestSeedDryRunLedgerGivesDirectionPickASpread(t *testing.T) {
	book := dryRunBook()
	sender := book.OwnerAddress()

	sim, err := chain.NewSimClient(chain.SimConfig{
		ChainID:  big.NewInt(1337),
		Routers:  book.RouterAddresses(),
		Executor: book.ExecutorAddress(),
		Owner:    sender,
		TokenX:   book.TokenX(),
		TokenQ:   book.TokenQ(),
	})
	require.NoError(t, err)

	amount := big.NewInt(10_000)
	seedDryRunLedger(sim, book, amount, sender)

	dir, err := engine.PickDirection(context.Background(), &quote.SimQuoter{Client: sim},
		types.AllRouters(), book.TokenX(), book.TokenQ(), amount)
	require.NoError(t, err)
	assert.Equal(t, types.RouterUniswapV3, dir.Sell)
	assert.Equal(t, types.RouterJoeLB, dir.Buy)
	assert.Equal(t, big.NewInt(3_000), dir.Spread)
}

// The picked direction has to be profitable on the seeded books, not just
// nonzero: selling on the best router and buying back on the cheapest one
// must return more base asset than it spent.
func TestSeedDryRunLedgerRoundTripProfits(t *testing.T) {
	book := dryRunBook()
	sender := book.OwnerAddress()

	sim, err := chain.NewSimClient(chain.SimConfig{
		ChainID:  big.NewInt(1337),
		Routers:  book.RouterAddresses(),
		Executor: book.ExecutorAddress(),
		Owner:    sender,
		TokenX:   book.TokenX(),
		TokenQ:   book.TokenQ(),
	})
	require.NoError(t, err)

	amount := big.NewInt(10_000)
	seedDryRunLedger(sim, book, amount, sender)

	assert.Equal(t, amount, sim.BalanceOf(book.TokenX(), book.ExecutorAddress()))
	assert.Equal(t, amount, sim.BalanceOf(book.TokenX(), sender))

	proceeds, err := sim.QuoteOut(types.RouterUniswapV3, book.TokenX(), book.TokenQ(), amount)
	require.NoError(t, err)
	back, err := sim.QuoteOut(types.RouterJoeLB, book.TokenQ(), book.TokenX(), proceeds)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Cmp(amount))
}
