package router

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// Liquidity Book router: a path-based swap over three parallel arrays
// (bin steps, version tags, token path) with the deadline as a scalar
// argument. The fee parameter is a bin step, a liquidity granularity, not a
// percentage tier, and the version tag must select the current LB
// generation; a legacy tag routes to a drained pool.
const joeRouterABIJson = `[{"type":"function","name":"swapExactTokensForTokens","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"tuple","components":[{"name":"pairBinSteps","type":"uint256[]"},{"name":"versions","type":"uint8[]"},{"name":"tokenPath","type":"address[]"}]},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]}]`

// lbVersionV2_1 is the current Liquidity Book generation tag.
const lbVersionV2_1 uint8 = 2

type lbPath struct {
	PairBinSteps []*big.Int
	Versions     []uint8
	TokenPath    []common.Address
}

type joeDialect struct {
	target common.Address
	abi    abi.ABI
	sel    [4]byte
}

func newJoeDialect(target common.Address) (*joeDialect, error) {
	parsed, err := abi.JSON(strings.NewReader(joeRouterABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse LB router ABI: %w", err)
	}
	d := &joeDialect{target: target, abi: parsed}
	copy(d.sel[:], parsed.Methods["swapExactTokensForTokens"].ID)
	return d, nil
}

func (d *joeDialect) selector() [4]byte {
	return d.sel
}

func (d *joeDialect) encode(intent types.SwapIntent) (types.EncodedCall, error) {
	deadline, err := requireDeadline(intent)
	if err != nil {
		return types.EncodedCall{}, err
	}
	path := lbPath{
		PairBinSteps: []*big.Int{new(big.Int).SetUint64(uint64(intent.FeeOrBinStep))},
		Versions:     []uint8{lbVersionV2_1},
		TokenPath:    []common.Address{intent.TokenIn, intent.TokenOut},
	}
	data, err := d.abi.Pack("swapExactTokensForTokens",
		intent.AmountIn, intent.MinAmountOut, path, intent.Recipient, deadline)
	if err != nil {
		return types.EncodedCall{}, fmt.Errorf("failed to pack swapExactTokensForTokens: %w", err)
	}
	return types.EncodedCall{Target: d.target, Selector: d.sel, Payload: data[4:]}, nil
}

func (d *joeDialect) decode(payload []byte) (types.SwapIntent, error) {
	out, err := d.abi.Methods["swapExactTokensForTokens"].Inputs.Unpack(payload)
	if err != nil {
		return types.SwapIntent{}, err
	}
	amountIn, _ := out[0].(*big.Int)
	minOut, _ := out[1].(*big.Int)
	path := abi.ConvertType(out[2], new(lbPath)).(*lbPath)
	to, _ := out[3].(common.Address)
	deadline, _ := out[4].(*big.Int)

	if len(path.TokenPath) != 2 || len(path.PairBinSteps) != 1 {
		return types.SwapIntent{}, fmt.Errorf("expected single-hop path, got %d tokens", len(path.TokenPath))
	}
	if len(path.Versions) != 1 || path.Versions[0] != lbVersionV2_1 {
		return types.SwapIntent{}, fmt.Errorf("unexpected LB version tag")
	}
	return types.SwapIntent{
		TokenIn:      path.TokenPath[0],
		TokenOut:     path.TokenPath[1],
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Recipient:    to,
		FeeOrBinStep: uint32(path.PairBinSteps[0].Uint64()),
		Deadline:     deadline,
	}, nil
}
