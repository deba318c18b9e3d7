package router

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// The on-chain executor performs both legs inside one transaction: it runs
// the pre-encoded sell call, reads the actual quote-asset balance it
// received, rebuilds the buy call from that balance using the same dialect
// table, and reverts everything if either leg fails or the checked profit
// floor is missed. Only the calldata interface lives here.
const executorABIJson = `[{"type":"function","name":"executeArb","inputs":[{"name":"sellTarget","type":"address"},{"name":"sellData","type":"bytes"},{"name":"buyRouter","type":"uint8"},{"name":"buyFeeOrBinStep","type":"uint24"},{"name":"minProfit","type":"uint256"},{"name":"checked","type":"bool"}],"outputs":[]}]`

// Revert reason strings emitted by the executor contract. The engine
// classifies failures by these prefixes; the simulated chain emits them.
const (
	RevertUnauthorized       = "ARB:UNAUTHORIZED"
	RevertLeg1Prefix         = "ARB:LEG1"
	RevertLeg2Prefix         = "ARB:LEG2"
	RevertUnprofitablePrefix = "ARB:UNPROFITABLE"
)

// ExecuteArgs mirrors the executeArb parameter list.
type ExecuteArgs struct {
	SellTarget      common.Address
	SellData        []byte
	BuyRouter       uint8
	BuyFeeOrBinStep *big.Int
	MinProfit       *big.Int
	Checked         bool
}

// ExecutorCodec encodes and decodes calls to the arbitrage executor
// contract. Stateless after construction, like the router dialects.
type ExecutorCodec struct {
	target common.Address
	abi    abi.ABI
	sel    [4]byte
}

// NewExecutorCodec binds the codec to a deployed executor address.
func NewExecutorCodec(target common.Address) (*ExecutorCodec, error) {
	parsed, err := abi.JSON(strings.NewReader(executorABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}
	c := &ExecutorCodec{target: target, abi: parsed}
	copy(c.sel[:], parsed.Methods["executeArb"].ID)
	return c, nil
}

// Target returns the executor contract address.
func (c *ExecutorCodec) Target() common.Address {
	return c.target
}

// Selector returns the executeArb selector.
func (c *ExecutorCodec) Selector() [4]byte {
	return c.sel
}

// EncodeExecute builds the single atomic-path transaction payload: the
// pre-encoded sell leg plus everything the contract needs to rebuild the buy
// leg on-chain from the real intermediate balance.
func (c *ExecutorCodec) EncodeExecute(sell types.EncodedCall, buyRouter types.RouterIdentity, buyFeeOrBinStep uint32, minProfit *big.Int, checked bool) (types.EncodedCall, error) {
	if !buyRouter.Valid() {
		return types.EncodedCall{}, &UnsupportedRouterError{Router: buyRouter}
	}
	if minProfit == nil {
		return types.EncodedCall{}, fmt.Errorf("min profit must be set")
	}
	data, err := c.abi.Pack("executeArb",
		sell.Target,
		sell.Data(),
		uint8(buyRouter),
		new(big.Int).SetUint64(uint64(buyFeeOrBinStep)),
		minProfit,
		checked,
	)
	if err != nil {
		return types.EncodedCall{}, fmt.Errorf("failed to pack executeArb: %w", err)
	}
	return types.EncodedCall{Target: c.target, Selector: c.sel, Payload: data[4:]}, nil
}

// DecodeExecute recovers the executeArb arguments. Used by the simulated
// chain to enact the contract's semantics.
func (c *ExecutorCodec) DecodeExecute(data []byte) (ExecuteArgs, error) {
	if len(data) < 4 || [4]byte(data[:4]) != c.sel {
		return ExecuteArgs{}, fmt.Errorf("calldata is not executeArb")
	}
	out, err := c.abi.Methods["executeArb"].Inputs.Unpack(data[4:])
	if err != nil {
		return ExecuteArgs{}, fmt.Errorf("failed to unpack executeArb: %w", err)
	}
	args := ExecuteArgs{
		SellTarget:      out[0].(common.Address),
		SellData:        out[1].([]byte),
		BuyRouter:       out[2].(uint8),
		BuyFeeOrBinStep: out[3].(*big.Int),
		MinProfit:       out[4].(*big.Int),
		Checked:         out[5].(bool),
	}
	return args, nil
}
