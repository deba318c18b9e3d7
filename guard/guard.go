// Package guard evaluates arbitrage outcomes against a minimum-profit
// policy. Pure evaluation only: inside the atomic path a Reject verdict
// means the whole attempt is rolled back on-chain, inside the parallel path
// it is informational, since nothing can be reversed after inclusion.
package guard

import (
	"fmt"
	"math/big"
)

// Verdict is the result of evaluating pre/post balances.
type Verdict struct {
	Accepted bool
	Before   *big.Int
	After    *big.Int
	Profit   *big.Int // After - Before, sign preserved
}

func (v Verdict) String() string {
	if v.Accepted {
		return fmt.Sprintf("accept (profit %s)", v.Profit)
	}
	return fmt.Sprintf("reject (before %s, after %s)", v.Before, v.After)
}

// Evaluate compares balances against the minimum-profit policy. Profit is
// always after-before regardless of sign. In unchecked mode every outcome is
// accepted, losses included; the profit is still reported.
func Evaluate(before, after, minProfit *big.Int, checked bool) Verdict {
	profit := new(big.Int).Sub(after, before)
	v := Verdict{
		Before: new(big.Int).Set(before),
		After:  new(big.Int).Set(after),
		Profit: profit,
	}
	if !checked {
		v.Accepted = true
		return v
	}
	v.Accepted = profit.Cmp(minProfit) >= 0
	return v
}
