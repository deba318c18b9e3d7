package router

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// Classic ISwapRouter exactInputSingle: 8-field params struct with the
// deadline embedded as the 5th field. Omitting the deadline field here would
// still encode, and revert on-chain, which is exactly why this struct shape
// is pinned by a golden vector.
const sushiExactInputABIJson = `[{"type":"function","name":"exactInputSingle","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}]`

type sushiExactInputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type sushiDialect struct {
	target common.Address
	abi    abi.ABI
	sel    [4]byte
}

func newSushiDialect(target common.Address) (*sushiDialect, error) {
	parsed, err := abi.JSON(strings.NewReader(sushiExactInputABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sushi exactInputSingle ABI: %w", err)
	}
	d := &sushiDialect{target: target, abi: parsed}
	copy(d.sel[:], parsed.Methods["exactInputSingle"].ID)
	return d, nil
}

func (d *sushiDialect) selector() [4]byte {
	return d.sel
}

func (d *sushiDialect) encode(intent types.SwapIntent) (types.EncodedCall, error) {
	deadline, err := requireDeadline(intent)
	if err != nil {
		return types.EncodedCall{}, err
	}
	data, err := d.abi.Pack("exactInputSingle", sushiExactInputParams{
		TokenIn:           intent.TokenIn,
		TokenOut:          intent.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(intent.FeeOrBinStep)),
		Recipient:         intent.Recipient,
		Deadline:          deadline,
		AmountIn:          intent.AmountIn,
		AmountOutMinimum:  intent.MinAmountOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return types.EncodedCall{}, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return types.EncodedCall{Target: d.target, Selector: d.sel, Payload: data[4:]}, nil
}

func (d *sushiDialect) decode(payload []byte) (types.SwapIntent, error) {
	out, err := d.abi.Methods["exactInputSingle"].Inputs.Unpack(payload)
	if err != nil {
		return types.SwapIntent{}, err
	}
	params := abi.ConvertType(out[0], new(sushiExactInputParams)).(*sushiExactInputParams)
	return types.SwapIntent{
		TokenIn:      params.TokenIn,
		TokenOut:     params.TokenOut,
		AmountIn:     params.AmountIn,
		MinAmountOut: params.AmountOutMinimum,
		Recipient:    params.Recipient,
		FeeOrBinStep: uint32(params.Fee.Uint64()),
		Deadline:     params.Deadline,
	}, nil
}
