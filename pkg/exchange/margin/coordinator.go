package margin

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/exchange/events"
)

// FundingStatus classifies the outcome of a funding resolution.
type FundingStatus int8

const (
	// Funded: the full required amount is available (possibly after a borrow).
	Funded FundingStatus = iota
	// Degraded: a shortfall could not be borrowed; the trade proceeds with
	// whatever was available.
	Degraded
	// Failed: nothing is available at all.
	Failed
)

func (s FundingStatus) String() string {
	switch s {
	case Funded:
		return "funded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FundingOutcome is the two-phase result of EnsureFunded. The engine only
// mutates book structures after inspecting it, so a failed borrow degrades
// the fill without any rollback.
type FundingOutcome struct {
	Status   FundingStatus
	Amount   int64 // spendable amount actually secured, <= required
	Borrowed int64 // portion of Amount drawn from the facility
	Reason   string
}

// Coordinator is the single chokepoint between the matching engine and the
// credit facility. Every funding-driven size reduction in the system comes
// out of EnsureFunded; no matching branch computes a reduced amount on its
// own. The same call handles base-denominated and quote-denominated
// shortfalls.
type Coordinator struct {
	ledger  BalanceLedger
	lending LendingFacade
	emit    events.Emitter
	log     *zap.Logger
}

func NewCoordinator(ledger BalanceLedger, lending LendingFacade, emit events.Emitter, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{ledger: ledger, lending: lending, emit: emit, log: log}
}

// EnsureFunded resolves the funding for one leg of a trade: the user must be
// able to spend required units of asset. If the available balance falls
// short and autoBorrow is set, the shortfall is borrowed. A borrow rejection
// is recovered locally: the outcome reports the degraded amount and a
// BorrowFailed event is emitted, but no error ever propagates to abort the
// caller's matching loop.
func (c *Coordinator) EnsureFunded(user common.Address, asset string, required int64, side book.Side, orderID book.OrderID, autoBorrow bool) FundingOutcome {
	if required <= 0 {
		return FundingOutcome{Status: Funded}
	}

	available := c.ledger.GetAvailable(user, asset)
	if available >= required {
		return FundingOutcome{Status: Funded, Amount: required}
	}

	if !autoBorrow {
		return degradedOutcome(available, "")
	}

	shortfall := required - available
	if err := c.lending.Borrow(user, asset, shortfall); err != nil {
		c.log.Info("borrow failed",
			zap.Stringer("user", user),
			zap.String("asset", asset),
			zap.Int64("shortfall", shortfall),
			zap.Uint64("order_id", uint64(orderID)),
			zap.Stringer("side", side),
			zap.Error(err),
		)
		c.emit.Emit(events.BorrowFailed{
			User:    user,
			Asset:   asset,
			Amount:  shortfall,
			OrderID: orderID,
			Reason:  err.Error(),
		})
		return degradedOutcome(available, err.Error())
	}

	c.emit.Emit(events.BorrowTriggered{
		User:    user,
		Asset:   asset,
		Amount:  shortfall,
		OrderID: orderID,
	})
	return FundingOutcome{Status: Funded, Amount: required, Borrowed: shortfall}
}

func degradedOutcome(available int64, reason string) FundingOutcome {
	if available <= 0 {
		return FundingOutcome{Status: Failed, Reason: reason}
	}
	return FundingOutcome{Status: Degraded, Amount: available, Reason: reason}
}

// SettleProceeds routes one proceeds leg of a fill. With autoRepay set and
// outstanding debt in asset, min(debt, proceeds) is repaid straight out of
// the freshly credited balance; the remainder simply stays available.
// Returns the amount actually repaid.
func (c *Coordinator) SettleProceeds(user common.Address, asset string, proceeds int64, orderID book.OrderID, autoRepay bool) int64 {
	if !autoRepay || proceeds <= 0 {
		return 0
	}
	debt := c.lending.Debt(user, asset)
	if debt == 0 {
		return 0
	}
	amount := proceeds
	if amount > debt {
		amount = debt
	}
	repaid := c.lending.Repay(user, asset, amount)
	if repaid > 0 {
		c.emit.Emit(events.RepayTriggered{
			User:    user,
			Asset:   asset,
			Amount:  repaid,
			OrderID: orderID,
		})
	}
	return repaid
}
