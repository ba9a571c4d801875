package margin

import (
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/exchange/events"
)

var (
	trader1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	trader2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestLedgerLockUnlockTransfer(t *testing.T) {
	l := NewLedger(nil)

	if err := l.Deposit(trader1, "USDC", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := l.GetAvailable(trader1, "USDC"); got != 1000 {
		t.Fatalf("available after deposit: %d", got)
	}

	if err := l.Lock(trader1, "USDC", 400); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := l.GetAvailable(trader1, "USDC"); got != 600 {
		t.Fatalf("available after lock: %d", got)
	}
	if got := l.GetLocked(trader1, "USDC"); got != 400 {
		t.Fatalf("locked: %d", got)
	}

	// Locking beyond available must fail and leave state untouched.
	if err := l.Lock(trader1, "USDC", 700); err == nil {
		t.Fatal("over-lock succeeded")
	}
	if got := l.GetLocked(trader1, "USDC"); got != 400 {
		t.Fatalf("locked changed after failed lock: %d", got)
	}

	// Settlement: locked funds move to the counterparty's available bucket.
	if err := l.TransferLocked(trader1, trader2, "USDC", 300); err != nil {
		t.Fatalf("transfer locked: %v", err)
	}
	if got := l.GetAvailable(trader2, "USDC"); got != 300 {
		t.Fatalf("counterparty credit: %d", got)
	}
	if got := l.GetLocked(trader1, "USDC"); got != 100 {
		t.Fatalf("payer locked after transfer: %d", got)
	}

	if err := l.Unlock(trader1, "USDC", 100); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := l.Unlock(trader1, "USDC", 1); err == nil {
		t.Fatal("unlock beyond locked succeeded")
	}

	// Conservation: 1000 deposited, 300 moved, zero minted.
	total := l.GetAvailable(trader1, "USDC") + l.GetLocked(trader1, "USDC") +
		l.GetAvailable(trader2, "USDC") + l.GetLocked(trader2, "USDC")
	if total != 1000 {
		t.Fatalf("balance not conserved: %d", total)
	}
}

func TestLedgerWithdrawRespectsLocked(t *testing.T) {
	l := NewLedger(nil)
	l.Deposit(trader1, "USDC", 500)
	l.Lock(trader1, "USDC", 300)

	if err := l.Withdraw(trader1, "USDC", 300); err == nil {
		t.Fatal("withdraw dipped into locked balance")
	}
	if err := l.Withdraw(trader1, "USDC", 200); err != nil {
		t.Fatalf("withdraw of available funds failed: %v", err)
	}
}

func newTestFacility() (*Ledger, *Facility) {
	l := NewLedger(nil)
	f := NewFacility(l, nil, 8000) // 80% collateral factor
	f.SetPrice("USDC", 1)
	f.SetPrice("WETH", 3000)
	return l, f
}

func TestFacilityBorrowAndRepay(t *testing.T) {
	l, f := newTestFacility()

	// $10,000 of collateral at 80% factor = $8,000 borrowing power.
	l.Deposit(trader1, "USDC", 10000)

	if err := f.Borrow(trader1, "USDC", 2000); err != nil {
		t.Fatalf("borrow within collateral: %v", err)
	}
	if got := f.Debt(trader1, "USDC"); got != 2000 {
		t.Fatalf("debt after borrow: %d", got)
	}
	if got := l.GetAvailable(trader1, "USDC"); got != 12000 {
		t.Fatalf("proceeds not credited: %d", got)
	}

	// Health: collateral (12000 × 0.8 = 9600) / debt 2000 = 4.8x.
	if h := f.HealthFactor(trader1); h != 48000 {
		t.Fatalf("health factor: want 48000 got %d", h)
	}

	// Repay caps at outstanding debt.
	if repaid := f.Repay(trader1, "USDC", 5000); repaid != 2000 {
		t.Fatalf("repaid %d, want 2000", repaid)
	}
	if got := f.Debt(trader1, "USDC"); got != 0 {
		t.Fatalf("debt after full repay: %d", got)
	}
	if h := f.HealthFactor(trader1); h != HealthNoDebt {
		t.Fatalf("debt-free health should be HealthNoDebt, got %d", h)
	}
}

func TestFacilityBorrowRejectsUndercollateralized(t *testing.T) {
	l, f := newTestFacility()
	l.Deposit(trader1, "USDC", 100)

	// 100 collateral at 80% cannot support a 10,000 borrow even counting
	// the proceeds themselves.
	if err := f.Borrow(trader1, "USDC", 10000); err == nil {
		t.Fatal("undercollateralized borrow succeeded")
	}
	if got := f.Debt(trader1, "USDC"); got != 0 {
		t.Fatalf("failed borrow left debt: %d", got)
	}
	if got := l.GetAvailable(trader1, "USDC"); got != 100 {
		t.Fatalf("failed borrow touched balance: %d", got)
	}
}

func TestFacilityUnpricedAssetNotBorrowable(t *testing.T) {
	l, f := newTestFacility()
	l.Deposit(trader1, "USDC", 10000)

	if err := f.Borrow(trader1, "DOGE", 10); err == nil {
		t.Fatal("borrow of unpriced asset succeeded")
	}
}

// TestFacilityConcurrentDebtQueries hits the lazy debt cache from many
// goroutines for users the facility has never seen. Meaningful under -race:
// the first-touch load mutates the debt map and must hold the write lock.
func TestFacilityConcurrentDebtQueries(t *testing.T) {
	_, f := newTestFacility()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		user := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		wg.Add(2)
		go func() {
			defer wg.Done()
			if got := f.Debt(user, "USDC"); got != 0 {
				t.Errorf("fresh user has debt %d", got)
			}
		}()
		go func() {
			defer wg.Done()
			if got := f.HealthFactor(user); got != HealthNoDebt {
				t.Errorf("fresh user health %d", got)
			}
		}()
	}
	wg.Wait()
}

func TestFacilityPause(t *testing.T) {
	l, f := newTestFacility()
	l.Deposit(trader1, "USDC", 10000)
	f.Borrow(trader1, "USDC", 100)

	f.Pause()
	if err := f.Borrow(trader1, "USDC", 100); err != ErrFacilityPaused {
		t.Fatalf("paused borrow: want ErrFacilityPaused got %v", err)
	}
	// Repay keeps working while paused.
	if repaid := f.Repay(trader1, "USDC", 100); repaid != 100 {
		t.Fatalf("repay while paused: %d", repaid)
	}

	f.Resume()
	if err := f.Borrow(trader1, "USDC", 100); err != nil {
		t.Fatalf("borrow after resume: %v", err)
	}
}

func TestEnsureFundedFullyFunded(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	l.Deposit(trader1, "USDC", 500)
	out := c.EnsureFunded(trader1, "USDC", 300, book.Buy, 1, false)
	if out.Status != Funded || out.Amount != 300 || out.Borrowed != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(rec.Events) != 0 {
		t.Fatalf("no events expected, got %d", len(rec.Events))
	}
}

func TestEnsureFundedBorrowsShortfall(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	// 250 available, 300 required: exactly the 50 shortfall is borrowed.
	l.Deposit(trader1, "USDC", 250)
	out := c.EnsureFunded(trader1, "USDC", 300, book.Buy, 7, true)
	if out.Status != Funded || out.Amount != 300 || out.Borrowed != 50 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got := f.Debt(trader1, "USDC"); got != 50 {
		t.Fatalf("debt: want 50 got %d", got)
	}

	borrows := rec.OfType(events.TypeBorrowTriggered)
	if len(borrows) != 1 {
		t.Fatalf("want exactly one BorrowTriggered, got %d", len(borrows))
	}
	ev := borrows[0].(events.BorrowTriggered)
	if ev.Amount != 50 || ev.Asset != "USDC" || ev.OrderID != 7 {
		t.Fatalf("borrow event wrong: %+v", ev)
	}
}

// The shortfall path is identical for base-denominated sells: same
// coordinator call, same single borrow event, just a different asset.
func TestEnsureFundedBorrowsBaseAsset(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	l.Deposit(trader1, "USDC", 100000) // collateral
	l.Deposit(trader1, "WETH", 2)
	out := c.EnsureFunded(trader1, "WETH", 5, book.Sell, 9, true)
	if out.Status != Funded || out.Amount != 5 || out.Borrowed != 3 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got := f.Debt(trader1, "WETH"); got != 3 {
		t.Fatalf("base-asset debt: want 3 got %d", got)
	}
	if len(rec.OfType(events.TypeBorrowTriggered)) != 1 {
		t.Fatal("want exactly one BorrowTriggered")
	}
}

func TestEnsureFundedDegradesWithoutAutoBorrow(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	l.Deposit(trader1, "USDC", 120)
	out := c.EnsureFunded(trader1, "USDC", 300, book.Buy, 1, false)
	if out.Status != Degraded || out.Amount != 120 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(rec.Events) != 0 {
		t.Fatal("degradation without borrow attempt must be silent")
	}
}

func TestEnsureFundedBorrowFailureDegrades(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	l.Deposit(trader1, "USDC", 120)
	f.Pause()

	out := c.EnsureFunded(trader1, "USDC", 300, book.Buy, 4, true)
	if out.Status != Degraded || out.Amount != 120 {
		t.Fatalf("borrow failure must degrade, not abort: %+v", out)
	}
	if !strings.Contains(out.Reason, "paused") {
		t.Fatalf("reason should carry the borrow error, got %q", out.Reason)
	}

	fails := rec.OfType(events.TypeBorrowFailed)
	if len(fails) != 1 {
		t.Fatalf("want one BorrowFailed, got %d", len(fails))
	}
	if len(rec.OfType(events.TypeBorrowTriggered)) != 0 {
		t.Fatal("no BorrowTriggered expected on failure")
	}
}

func TestEnsureFundedNothingAvailable(t *testing.T) {
	l, f := newTestFacility()
	c := NewCoordinator(l, f, events.Nop{}, nil)

	out := c.EnsureFunded(trader1, "USDC", 300, book.Buy, 1, false)
	if out.Status != Failed || out.Amount != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestSettleProceedsAutoRepay(t *testing.T) {
	l, f := newTestFacility()
	rec := &events.Recorder{}
	c := NewCoordinator(l, f, rec, nil)

	l.Deposit(trader1, "USDC", 10000)
	if err := f.Borrow(trader1, "USDC", 400); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Proceeds exceed debt: only the debt is repaid.
	repaid := c.SettleProceeds(trader1, "USDC", 1000, 3, true)
	if repaid != 400 {
		t.Fatalf("repaid %d, want 400", repaid)
	}
	if got := f.Debt(trader1, "USDC"); got != 0 {
		t.Fatalf("debt after settle: %d", got)
	}
	if len(rec.OfType(events.TypeRepayTriggered)) != 1 {
		t.Fatal("want one RepayTriggered")
	}

	// No debt left: settle is a no-op and stays silent.
	if repaid := c.SettleProceeds(trader1, "USDC", 500, 3, true); repaid != 0 {
		t.Fatalf("repay without debt: %d", repaid)
	}
	if len(rec.OfType(events.TypeRepayTriggered)) != 1 {
		t.Fatal("no extra RepayTriggered expected")
	}
}

func TestSettleProceedsOptOut(t *testing.T) {
	l, f := newTestFacility()
	c := NewCoordinator(l, f, events.Nop{}, nil)

	l.Deposit(trader1, "USDC", 10000)
	f.Borrow(trader1, "USDC", 400)

	if repaid := c.SettleProceeds(trader1, "USDC", 1000, 3, false); repaid != 0 {
		t.Fatalf("autoRepay off must not repay, got %d", repaid)
	}
	if got := f.Debt(trader1, "USDC"); got != 400 {
		t.Fatalf("debt changed: %d", got)
	}
}
