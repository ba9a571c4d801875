package margin

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// HealthNoDebt is the health factor reported for a user with zero debt.
const HealthNoDebt int64 = math.MaxInt64

// HealthScale is the fixed-point scale of health factors: 10000 = 1.0.
// Below 10000 the account is undercollateralized.
const HealthScale int64 = 10000

// ErrFacilityPaused is returned by Borrow while lending is halted.
var ErrFacilityPaused = errors.New("lending facility paused")

// LendingFacade is the credit collaborator. Borrow is non-throwing in the
// protocol sense: any rejection is an ordinary error the caller recovers
// from by trading at reduced size. The interest-rate model behind Repay is
// out of scope here; the facade only moves principal.
type LendingFacade interface {
	// Borrow draws amount of asset into the user's available balance,
	// recording it as debt.
	Borrow(user common.Address, asset string, amount int64) error
	// Repay pays down up to amount of the user's debt from their available
	// balance and returns the amount actually repaid.
	Repay(user common.Address, asset string, amount int64) int64
	// Debt returns the user's outstanding principal in asset.
	Debt(user common.Address, asset string) int64
	// HealthFactor returns the collateral coverage ratio scaled by
	// HealthScale. Used for pre-trade validation only; the engine never
	// recomputes it mid-loop.
	HealthFactor(user common.Address) int64
}

// Facility is the default LendingFacade: collateral-factor health model over
// the ledger's balances, with static per-asset valuation prices. Prices are
// set by the operator (oracle aggregation is out of scope).
type Facility struct {
	mu     sync.RWMutex
	ledger *Ledger
	store  *Store // nil disables persistence

	debts  map[common.Address]map[string]int64
	prices map[string]int64 // asset -> value per unit, in quote value units

	// collateralFactorBps discounts collateral value when computing health;
	// 8000 = assets count for 80% of face value.
	collateralFactorBps int64

	paused bool
}

func NewFacility(ledger *Ledger, store *Store, collateralFactorBps int64) *Facility {
	return &Facility{
		ledger:              ledger,
		store:               store,
		debts:               make(map[common.Address]map[string]int64),
		prices:              make(map[string]int64),
		collateralFactorBps: collateralFactorBps,
	}
}

// SetPrice sets the valuation price for an asset. Assets without a price
// contribute nothing to collateral value and cannot be borrowed.
func (f *Facility) SetPrice(asset string, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

// Pause halts new borrows. Repay keeps working.
func (f *Facility) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *Facility) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *Facility) debt(user common.Address, asset string) int64 {
	byAsset, ok := f.debts[user]
	if !ok {
		byAsset = make(map[string]int64)
		f.debts[user] = byAsset
		if f.store != nil {
			if d, err := f.store.LoadDebt(user, asset); err == nil && d > 0 {
				byAsset[asset] = d
			}
		}
	}
	return byAsset[asset]
}

func (f *Facility) setDebt(user common.Address, asset string, debt int64) {
	byAsset, ok := f.debts[user]
	if !ok {
		byAsset = make(map[string]int64)
		f.debts[user] = byAsset
	}
	byAsset[asset] = debt
	if f.store != nil {
		if err := f.store.SaveDebt(user, asset, debt); err != nil {
			fmt.Printf("[facility] save debt %s/%s: %v\n", user.Hex(), asset, err)
		}
	}
}

// collateralValue values the user's total balances (locked included) at the
// facility's prices, discounted by the collateral factor.
func (f *Facility) collateralValue(user common.Address) int64 {
	var value int64
	for asset, bal := range f.ledger.Snapshot(user) {
		price, ok := f.prices[asset]
		if !ok {
			continue
		}
		value += bal.Total * price
	}
	return value * f.collateralFactorBps / HealthScale
}

func (f *Facility) debtValue(user common.Address) int64 {
	var value int64
	for asset, d := range f.debts[user] {
		price, ok := f.prices[asset]
		if !ok {
			continue
		}
		value += d * price
	}
	return value
}

func (f *Facility) Debt(user common.Address, asset string) int64 {
	// debt lazily caches persisted entries into f.debts, so this is a write
	// path even for pure lookups; a read lock would let two first-touch
	// queries race on the map.
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debt(user, asset)
}

func (f *Facility) HealthFactor(user common.Address) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.healthLocked(user, 0, 0)
}

// healthLocked computes health with an optional extra debt of extraAmount
// units priced at extraPrice (for pre-borrow simulation). The simulated
// borrow proceeds count as collateral at the usual haircut, since Borrow
// credits them to the ledger before the debt is booked.
func (f *Facility) healthLocked(user common.Address, extraAmount, extraPrice int64) int64 {
	extraValue := extraAmount * extraPrice
	debtValue := f.debtValue(user) + extraValue
	if debtValue == 0 {
		return HealthNoDebt
	}
	collateral := f.collateralValue(user) + extraValue*f.collateralFactorBps/HealthScale
	return collateral * HealthScale / debtValue
}

func (f *Facility) Borrow(user common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("borrow amount must be positive: %d", amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		return ErrFacilityPaused
	}
	price, ok := f.prices[asset]
	if !ok || price <= 0 {
		return fmt.Errorf("asset %s not borrowable: no valuation price", asset)
	}

	// The drawn amount immediately lands in the borrower's balance, so it
	// counts as collateral too; only the discount haircut tightens health.
	if h := f.healthLocked(user, amount, price); h < HealthScale {
		return fmt.Errorf("insufficient collateral: post-borrow health %d < %d", h, HealthScale)
	}

	if err := f.ledger.Credit(user, asset, amount); err != nil {
		return fmt.Errorf("credit borrow proceeds: %w", err)
	}
	f.setDebt(user, asset, f.debt(user, asset)+amount)
	return nil
}

func (f *Facility) Repay(user common.Address, asset string, amount int64) int64 {
	if amount <= 0 {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	debt := f.debt(user, asset)
	if debt == 0 {
		return 0
	}
	repay := amount
	if repay > debt {
		repay = debt
	}
	if avail := f.ledger.GetAvailable(user, asset); repay > avail {
		repay = avail
	}
	if repay <= 0 {
		return 0
	}
	if err := f.ledger.Debit(user, asset, repay); err != nil {
		return 0
	}
	f.setDebt(user, asset, debt-repay)
	return repay
}
