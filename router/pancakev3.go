package router

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// Pancake's smart router takes the same 7-field exactInputSingle struct as
// SwapRouter02, but only inside a multicall(deadline, data[]) envelope: the
// deadline lives on the wrapper, not in the params struct. Sending the bare
// inner call encodes fine and reverts at execution time.
const multicallABIJson = `[{"type":"function","name":"multicall","inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]}]`

type pancakeDialect struct {
	inner *exactInputDialect
	abi   abi.ABI
	sel   [4]byte
}

func newPancakeDialect(target common.Address) (*pancakeDialect, error) {
	inner, err := newExactInputDialect(types.RouterPancakeV3, target)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(multicallABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall ABI: %w", err)
	}
	d := &pancakeDialect{inner: inner, abi: parsed}
	copy(d.sel[:], parsed.Methods["multicall"].ID)
	return d, nil
}

func (d *pancakeDialect) selector() [4]byte {
	return d.sel
}

func (d *pancakeDialect) encode(intent types.SwapIntent) (types.EncodedCall, error) {
	deadline, err := requireDeadline(intent)
	if err != nil {
		return types.EncodedCall{}, err
	}
	innerCall, err := d.inner.encode(intent)
	if err != nil {
		return types.EncodedCall{}, err
	}
	data, err := d.abi.Pack("multicall", deadline, [][]byte{innerCall.Data()})
	if err != nil {
		return types.EncodedCall{}, fmt.Errorf("failed to pack multicall: %w", err)
	}
	return types.EncodedCall{Target: d.inner.target, Selector: d.sel, Payload: data[4:]}, nil
}

func (d *pancakeDialect) decode(payload []byte) (types.SwapIntent, error) {
	out, err := d.abi.Methods["multicall"].Inputs.Unpack(payload)
	if err != nil {
		return types.SwapIntent{}, err
	}
	deadline, ok := out[0].(*big.Int)
	if !ok {
		return types.SwapIntent{}, fmt.Errorf("unexpected deadline type %T", out[0])
	}
	calls, ok := out[1].([][]byte)
	if !ok {
		return types.SwapIntent{}, fmt.Errorf("unexpected call list type %T", out[1])
	}
	if len(calls) != 1 {
		return types.SwapIntent{}, fmt.Errorf("expected one inner call, got %d", len(calls))
	}
	innerData := calls[0]
	if len(innerData) < 4 || [4]byte(innerData[:4]) != d.inner.sel {
		return types.SwapIntent{}, fmt.Errorf("unexpected inner selector")
	}
	intent, err := d.inner.decode(innerData[4:])
	if err != nil {
		return types.SwapIntent{}, err
	}
	intent.Deadline = deadline
	return intent, nil
}
