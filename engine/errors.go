package engine

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
)

// ErrUnauthorized means the caller is not the executor's designated owner.
// Fatal, never retried.
var ErrUnauthorized = errors.New("caller is not the designated owner")

// ErrInclusionTimeout means a submitted leg was not included before the
// configured wait elapsed. How long to wait is a reporting choice; the
// transaction itself cannot be canceled and may still land.
var ErrInclusionTimeout = errors.New("transaction not included before timeout")

// LegFailedError means the target router rejected one leg. Inside an atomic
// attempt every effect is already rolled back when this surfaces.
type LegFailedError struct {
	Leg    int
	Reason string
}

func (e *LegFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("leg %d failed", e.Leg)
	}
	return fmt.Sprintf("leg %d failed: %s", e.Leg, e.Reason)
}

// UnprofitableError means a checked atomic attempt executed both legs and
// missed the profit floor; the contract rolled the whole round trip back,
// since holding the opposite-direction exposure is never desirable.
type UnprofitableError struct {
	Before *big.Int
	After  *big.Int
}

func (e *UnprofitableError) Error() string {
	return fmt.Sprintf("unprofitable: before %s, after %s", e.Before, e.After)
}

// PartialFillError is parallel-only: exactly one leg settled successfully.
// Nothing can be rolled back; the caller holds an open one-sided position
// and must reconcile it.
type PartialFillError struct {
	SellOutcome types.LegOutcome
	BuyOutcome  types.LegOutcome
}

func (e *PartialFillError) Error() string {
	return fmt.Sprintf("partially filled: sell success=%t, buy success=%t",
		e.SellOutcome.Success, e.BuyOutcome.Success)
}

// classifyRevert maps the executor contract's revert reason onto the error
// taxonomy.
func classifyRevert(reason string) error {
	switch {
	case reason == router.RevertUnauthorized:
		return ErrUnauthorized
	case strings.HasPrefix(reason, router.RevertUnprofitablePrefix):
		return parseUnprofitable(reason)
	case strings.HasPrefix(reason, router.RevertLeg1Prefix):
		return &LegFailedError{Leg: 1, Reason: strings.TrimPrefix(strings.TrimPrefix(reason, router.RevertLeg1Prefix), ":")}
	case strings.HasPrefix(reason, router.RevertLeg2Prefix):
		return &LegFailedError{Leg: 2, Reason: strings.TrimPrefix(strings.TrimPrefix(reason, router.RevertLeg2Prefix), ":")}
	case reason == "":
		return fmt.Errorf("attempt reverted without a reason")
	}
	return fmt.Errorf("attempt reverted: %s", reason)
}

func parseUnprofitable(reason string) error {
	parts := strings.Split(strings.TrimPrefix(strings.TrimPrefix(reason, router.RevertUnprofitablePrefix), ":"), ":")
	e := &UnprofitableError{}
	if len(parts) == 2 {
		e.Before, _ = new(big.Int).SetString(parts[0], 10)
		e.After, _ = new(big.Int).SetString(parts[1], 10)
	}
	return e
}
