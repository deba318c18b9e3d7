package router

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// SwapRouter02-style exactInputSingle: a 7-field params struct with no
// embedded deadline. Deadline enforcement is the caller's problem (or, for
// the enveloped dialect, the multicall wrapper's).
const exactInputABIJson = `[{"type":"function","name":"exactInputSingle","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}]`

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// exactInputDialect covers routers that take the 7-field struct directly.
type exactInputDialect struct {
	id     types.RouterIdentity
	target common.Address
	abi    abi.ABI
	sel    [4]byte
}

func newExactInputDialect(id types.RouterIdentity, target common.Address) (*exactInputDialect, error) {
	parsed, err := abi.JSON(strings.NewReader(exactInputABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exactInputSingle ABI: %w", err)
	}
	d := &exactInputDialect{id: id, target: target, abi: parsed}
	copy(d.sel[:], parsed.Methods["exactInputSingle"].ID)
	return d, nil
}

func (d *exactInputDialect) selector() [4]byte {
	return d.sel
}

func (d *exactInputDialect) encode(intent types.SwapIntent) (types.EncodedCall, error) {
	data, err := d.abi.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           intent.TokenIn,
		TokenOut:          intent.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(intent.FeeOrBinStep)),
		Recipient:         intent.Recipient,
		AmountIn:          intent.AmountIn,
		AmountOutMinimum:  intent.MinAmountOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return types.EncodedCall{}, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return types.EncodedCall{Target: d.target, Selector: d.sel, Payload: data[4:]}, nil
}

func (d *exactInputDialect) decode(payload []byte) (types.SwapIntent, error) {
	out, err := d.abi.Methods["exactInputSingle"].Inputs.Unpack(payload)
	if err != nil {
		return types.SwapIntent{}, err
	}
	params := abi.ConvertType(out[0], new(exactInputSingleParams)).(*exactInputSingleParams)
	return types.SwapIntent{
		TokenIn:      params.TokenIn,
		TokenOut:     params.TokenOut,
		AmountIn:     params.AmountIn,
		MinAmountOut: params.AmountOutMinimum,
		Recipient:    params.Recipient,
		FeeOrBinStep: uint32(params.Fee.Uint64()),
	}, nil
}
