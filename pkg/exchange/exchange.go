package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/exchange/events"
	"github.com/synthdex/synthclob/pkg/exchange/margin"
	"github.com/synthdex/synthclob/pkg/util"
)

// Exchange is the multi-market facade: one balance ledger and lending
// facility shared by every market, one engine per listed symbol. All
// order-flow mutation is expected to arrive through the Gateway so that
// matching stays strictly sequential; queries may run concurrently.
type Exchange struct {
	registry *Registry
	ledger   *margin.Ledger
	lending  margin.LendingFacade
	coord    *margin.Coordinator

	mu      sync.RWMutex
	engines map[string]*Engine

	minHealthBps int64

	emit  events.Emitter
	clock util.Clock
	log   *zap.Logger
}

func New(ledger *margin.Ledger, lending margin.LendingFacade, emit events.Emitter, clock util.Clock, log *zap.Logger) *Exchange {
	if emit == nil {
		emit = events.Nop{}
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Exchange{
		registry:     NewRegistry(),
		ledger:       ledger,
		lending:      lending,
		coord:        margin.NewCoordinator(ledger, lending, emit, log),
		engines:      make(map[string]*Engine),
		minHealthBps: margin.HealthScale,
		emit:         emit,
		clock:        clock,
		log:          log,
	}
}

// SetMinHealth sets the health floor applied to auto-borrow orders on
// markets listed afterwards.
func (x *Exchange) SetMinHealth(bps int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if bps > 0 {
		x.minHealthBps = bps
	}
}

// Registry exposes market administration.
func (x *Exchange) Registry() *Registry { return x.registry }

// Ledger exposes the shared balance ledger.
func (x *Exchange) Ledger() *margin.Ledger { return x.ledger }

// Lending exposes the shared lending facility.
func (x *Exchange) Lending() margin.LendingFacade { return x.lending }

// ListMarket lists a market and spins up its matching engine.
func (x *Exchange) ListMarket(m *Market) error {
	if err := x.registry.List(m); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	eng := NewEngine(m, x.ledger, x.lending, x.coord, x.emit, x.clock, x.log.With(zap.String("symbol", m.Symbol)))
	eng.minHealthBps = x.minHealthBps
	x.engines[m.Symbol] = eng
	x.log.Info("market listed",
		zap.String("symbol", m.Symbol),
		zap.String("base", m.BaseAsset),
		zap.String("quote", m.QuoteAsset),
	)
	return nil
}

// Engine returns the matching engine for symbol.
func (x *Exchange) Engine(symbol string) (*Engine, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	eng, ok := x.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return eng, nil
}

// Place routes an order to its market's engine.
func (x *Exchange) Place(symbol string, req PlaceRequest) (*PlaceResult, error) {
	eng, err := x.Engine(symbol)
	if err != nil {
		return nil, err
	}
	return eng.Place(req)
}

// Cancel removes a resting order on symbol.
func (x *Exchange) Cancel(symbol string, caller common.Address, id book.OrderID) error {
	eng, err := x.Engine(symbol)
	if err != nil {
		return err
	}
	return eng.Cancel(caller, id)
}

// Depth returns aggregated book depth for symbol, best levels first.
func (x *Exchange) Depth(symbol string, max int) (bids, asks []book.LevelSummary, err error) {
	eng, err := x.Engine(symbol)
	if err != nil {
		return nil, nil, err
	}
	bids, asks = eng.Depth(max)
	return bids, asks, nil
}

// Order returns a copy of an order record on symbol.
func (x *Exchange) Order(symbol string, id book.OrderID) (book.Order, error) {
	eng, err := x.Engine(symbol)
	if err != nil {
		return book.Order{}, err
	}
	o, ok := eng.Order(id)
	if !ok {
		return book.Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return o, nil
}

// Deposit credits a user's available balance.
func (x *Exchange) Deposit(user common.Address, asset string, amount int64) error {
	return x.ledger.Deposit(user, asset, amount)
}

// Withdraw debits a user's available balance. Locked funds and funds
// securing debt health stay untouchable.
func (x *Exchange) Withdraw(user common.Address, asset string, amount int64) error {
	return x.ledger.Withdraw(user, asset, amount)
}

// Balances returns a user's per-asset snapshot.
func (x *Exchange) Balances(user common.Address) map[string]margin.BalanceView {
	return x.ledger.Snapshot(user)
}
