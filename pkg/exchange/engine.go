package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/exchange/events"
	"github.com/synthdex/synthclob/pkg/exchange/margin"
	"github.com/synthdex/synthclob/pkg/util"
)

// Engine runs one market's order flow: validation, funding resolution,
// price-time matching and book mutation. Execution is strictly sequential:
// every placement or cancel runs to completion, external margin calls
// included, before the next begins (see Gateway). All order shapes go
// through the single matching loop below, and the margin coordinator is
// the only place a fill size ever shrinks for funding reasons.
type Engine struct {
	mkt  *Market
	book *book.Book

	// mu guards the book: Place and Cancel write under the full lock, the
	// query accessors read under the read lock. Writes arrive one at a time
	// through the Gateway, so the write lock is uncontended in practice; it
	// exists so HTTP queries can read the book safely mid-match.
	mu sync.RWMutex

	ledger  margin.BalanceLedger
	lending margin.LendingFacade
	coord   *margin.Coordinator

	emit  events.Emitter
	clock util.Clock
	log   *zap.Logger

	// minHealthBps gates auto-borrow orders pre-trade; health is never
	// recomputed mid-loop.
	minHealthBps int64
}

func NewEngine(mkt *Market, ledger margin.BalanceLedger, lending margin.LendingFacade, coord *margin.Coordinator, emit events.Emitter, clock util.Clock, log *zap.Logger) *Engine {
	if emit == nil {
		emit = events.Nop{}
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		mkt:          mkt,
		book:         book.New(),
		ledger:       ledger,
		lending:      lending,
		coord:        coord,
		emit:         emit,
		clock:        clock,
		log:          log,
		minHealthBps: margin.HealthScale,
	}
}

// Market returns the engine's market parameters.
func (e *Engine) Market() *Market { return e.mkt }

// Book exposes the underlying book for single-threaded tests and invariant
// checks. Concurrent callers must use the locked accessors (Order, Depth,
// OpenOrders) instead.
func (e *Engine) Book() *book.Book { return e.book }

// PlaceRequest describes an incoming order.
type PlaceRequest struct {
	Owner common.Address
	Side  book.Side
	Type  book.OrderType
	TIF   book.TimeInForce

	Price int64 // limit orders only, in ticks
	Qty   int64 // base units; 0 for a quote-denominated market buy

	// QuoteAmount sizes a market buy by quote spend instead of base
	// quantity: the walk converts it per level via
	// base = quote × 10^baseDecimals / price.
	QuoteAmount int64

	// SlippageBps bounds how far a market order may walk from the best
	// opposing price. 0 means unbounded.
	SlippageBps int64

	Expiry int64 // Unix ms deadline; 0 = none

	AutoBorrow bool
	AutoRepay  bool
}

// Fill is one match from the taker's perspective.
type Fill struct {
	TradeID string       `json:"trade_id"`
	MakerID book.OrderID `json:"maker_id"`
	Price   int64        `json:"price"`
	Qty     int64        `json:"qty"`
}

// PlaceResult reports every placement outcome in full: filled and remaining
// quantity plus any borrow/repay actioned for the taker. There are no silent
// partial outcomes.
type PlaceResult struct {
	OrderID   book.OrderID `json:"order_id"`
	Status    book.Status  `json:"status"`
	Filled    int64        `json:"filled"`
	Remaining int64        `json:"remaining"`
	Borrowed  int64        `json:"borrowed"`
	Repaid    int64        `json:"repaid"`
	Fills     []Fill       `json:"fills,omitempty"`
}

// spendAsset returns the asset an order pays with.
func (e *Engine) spendAsset(side book.Side) string {
	if side == book.Buy {
		return e.mkt.QuoteAsset
	}
	return e.mkt.BaseAsset
}

// receiveAsset returns the asset an order is paid in.
func (e *Engine) receiveAsset(side book.Side) string {
	if side == book.Buy {
		return e.mkt.BaseAsset
	}
	return e.mkt.QuoteAsset
}

// Place validates, funds and matches an order, then rests or discards the
// remainder per its time-in-force.
func (e *Engine) Place(req PlaceRequest) (*PlaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mkt.Status() != Active {
		return nil, fmt.Errorf("%w: %s", ErrMarketPaused, e.mkt.Symbol)
	}
	nowMs := e.clock.Now().UnixMilli()

	if err := e.validate(req, nowMs); err != nil {
		return nil, err
	}

	// Pre-trade health gate for margin orders.
	if req.AutoBorrow {
		if h := e.lending.HealthFactor(req.Owner); h < e.minHealthBps {
			return nil, fmt.Errorf("%w: health factor %d below %d", ErrValidation, h, e.minHealthBps)
		}
	}

	// Dry-run scan: FOK atomicity and market-order liquidity are decided
	// before anything is locked or borrowed.
	scan := e.scanOpposing(req, nowMs)
	if req.Type == book.Market && scan.qty == 0 {
		return nil, fmt.Errorf("%w: no opposing liquidity", ErrInsufficientLiquidity)
	}
	if req.TIF == book.FOK {
		if req.Qty > 0 && scan.qty < req.Qty {
			return nil, fmt.Errorf("%w: fillable %d of %d", ErrInsufficientLiquidity, scan.qty, req.Qty)
		}
		if req.Qty == 0 && scan.cost < req.QuoteAmount {
			return nil, fmt.Errorf("%w: fillable notional %d of %d", ErrInsufficientLiquidity, scan.cost, req.QuoteAmount)
		}
	}
	if req.TIF == book.PostOnly {
		if best := e.book.Opposing(req.Side).Best(); best != nil && crosses(req.Side, req.Price, best.Price) {
			return nil, fmt.Errorf("%w: limit %d against opposing best %d", ErrWouldCross, req.Price, best.Price)
		}
	}

	qty := req.Qty
	if qty == 0 {
		// Quote-denominated market buy: size by what the scan says the
		// budget can sweep.
		qty = scan.qty
	}

	// Funding resolution for the taker's own leg, resolved before the record
	// is inserted so a funding-rejected FOK leaves no trace. This is the only
	// point that may reduce the intended executable size; everything
	// downstream operates on the amount the coordinator returns. The id is
	// pre-assigned: nothing else can insert while the write lock is held.
	asset := e.spendAsset(req.Side)
	required := e.requiredFunding(req, qty, scan)
	outcome := e.coord.EnsureFunded(req.Owner, asset, required, req.Side, e.book.Orders.NextID(), req.AutoBorrow)

	if req.TIF == book.FOK && outcome.Amount < required {
		// FOK atomicity beats graceful degradation: reject with no record,
		// no lock and no borrow. EnsureFunded borrows exactly the shortfall,
		// so landing here means the borrow was refused outright and no debt
		// was booked.
		return nil, fmt.Errorf("%w: funded %d of %d", ErrInsufficientLiquidity, outcome.Amount, required)
	}

	id := e.book.Orders.Add(book.Order{
		Owner:      req.Owner,
		Symbol:     e.mkt.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		TIF:        req.TIF,
		Price:      req.Price,
		Qty:        qty,
		Status:     book.Open,
		Expiry:     req.Expiry,
		AutoBorrow: req.AutoBorrow,
		AutoRepay:  req.AutoRepay,
		CreatedAt:  nowMs,
	})
	taker := e.book.Orders.Get(id)

	e.emit.Emit(events.OrderPlaced{
		ID:         id,
		Owner:      req.Owner,
		Symbol:     e.mkt.Symbol,
		Side:       req.Side.String(),
		Type:       req.Type.String(),
		TIF:        req.TIF.String(),
		Price:      req.Price,
		Qty:        qty,
		AutoBorrow: req.AutoBorrow,
		AutoRepay:  req.AutoRepay,
	})

	if outcome.Amount > 0 {
		if err := e.ledger.Lock(req.Owner, asset, outcome.Amount); err != nil {
			taker.Status = book.Rejected
			e.emit.Emit(events.OrderUpdated{ID: id, Filled: 0, Status: taker.Status.String()})
			return nil, fmt.Errorf("%w: lock after funding: %v", ErrInvariant, err)
		}
		taker.Locked = outcome.Amount
	}

	// A degraded outcome shrinks the order to the fundable size, except
	// for GTC auto-borrow orders, which rest at full size under-locked and
	// retry the borrow per fill through the maker-leg chokepoint.
	if outcome.Amount < required && !(req.TIF == book.GTC && req.AutoBorrow) {
		taker.Qty = e.fundableQty(taker, outcome.Amount)
	}

	result := &PlaceResult{OrderID: id, Borrowed: outcome.Borrowed}

	if err := e.match(taker, req, nowMs, result); err != nil {
		return result, err
	}
	e.finishPlacement(taker, result)
	return result, nil
}

// validate checks structural constraints only; it takes no locks and causes
// no state change.
func (e *Engine) validate(req PlaceRequest, nowMs int64) error {
	if req.Expiry != 0 && req.Expiry <= nowMs {
		return fmt.Errorf("%w: expiry %d already passed", ErrValidation, req.Expiry)
	}

	switch req.Type {
	case book.Limit:
		if req.Qty <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		if req.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrValidation)
		}
		if req.Price%e.mkt.TickSize != 0 {
			return fmt.Errorf("%w: price %d not aligned to tick %d", ErrValidation, req.Price, e.mkt.TickSize)
		}
		if req.QuoteAmount != 0 {
			return fmt.Errorf("%w: quote sizing is market-only", ErrValidation)
		}
		if n := e.mkt.QuoteNotional(req.Price, req.Qty); n < e.mkt.MinNotional {
			return fmt.Errorf("%w: notional %d below minimum %d", ErrValidation, n, e.mkt.MinNotional)
		}
	case book.Market:
		if req.Price != 0 {
			return fmt.Errorf("%w: market orders carry no price", ErrValidation)
		}
		if req.TIF != book.IOC && req.TIF != book.FOK {
			return fmt.Errorf("%w: market orders must be IOC or FOK", ErrValidation)
		}
		if req.Qty <= 0 && req.QuoteAmount <= 0 {
			return fmt.Errorf("%w: quantity or quote amount must be positive", ErrValidation)
		}
		if req.Qty > 0 && req.QuoteAmount > 0 {
			return fmt.Errorf("%w: size by quantity or quote amount, not both", ErrValidation)
		}
		if req.QuoteAmount > 0 && req.Side != book.Buy {
			return fmt.Errorf("%w: quote sizing applies to buys only", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type", ErrValidation)
	}

	if req.Qty > 0 {
		if req.Qty%e.mkt.LotSize != 0 {
			return fmt.Errorf("%w: quantity %d not aligned to lot %d", ErrValidation, req.Qty, e.mkt.LotSize)
		}
		if req.Qty < e.mkt.MinOrderSize || req.Qty > e.mkt.MaxOrderSize {
			return fmt.Errorf("%w: quantity %d outside [%d, %d]", ErrValidation, req.Qty, e.mkt.MinOrderSize, e.mkt.MaxOrderSize)
		}
	}
	if req.SlippageBps < 0 {
		return fmt.Errorf("%w: slippage cannot be negative", ErrValidation)
	}
	return nil
}

// scanResult is a dry-run view of what the opposing book can fill.
type scanResult struct {
	qty  int64 // fillable base quantity at acceptable prices
	cost int64 // quote cost of filling it at level prices
}

// scanOpposing walks opposing levels best-to-worst computing cumulative
// fillable volume, skipping expired and self-owned makers. No state is
// touched: this backs the FOK pre-check, market-order liquidity check and
// the taker's funding requirement.
func (e *Engine) scanOpposing(req PlaceRequest, nowMs int64) scanResult {
	var out scanResult

	wantQty := req.Qty
	quoteLeft := req.QuoteAmount
	byQuote := req.Type == book.Market && req.Qty == 0

	opp := e.book.Opposing(req.Side)
	store := e.book.Orders
	refPrice := int64(-1)

	for lvl := opp.Best(); lvl != nil; lvl = opp.Next(lvl.Price) {
		if req.Type == book.Limit && !crosses(req.Side, req.Price, lvl.Price) {
			break
		}
		if req.Type == book.Market && req.SlippageBps > 0 {
			if refPrice < 0 {
				refPrice = lvl.Price
			}
			if exceedsSlippage(req.Side, refPrice, lvl.Price, req.SlippageBps) {
				break
			}
		}

		for cur := lvl.Head(); cur != book.NilOrderID; cur = lvl.After(store, cur) {
			maker := store.Get(cur)
			if maker.ExpiredAt(nowMs) || maker.Owner == req.Owner {
				continue
			}
			amount := maker.Remaining()
			if byQuote {
				if affordable := e.mkt.BaseFromQuote(lvl.Price, quoteLeft); amount > affordable {
					amount = affordable
				}
			} else if left := wantQty - out.qty; amount > left {
				amount = left
			}
			if amount <= 0 {
				return out
			}
			notional := e.mkt.QuoteNotional(lvl.Price, amount)
			out.qty += amount
			out.cost += notional
			if byQuote {
				quoteLeft -= notional
			} else if out.qty >= wantQty {
				return out
			}
		}
	}
	return out
}

// requiredFunding computes the taker-leg funding requirement in the order's
// spend asset. Orders that can rest need their full remainder covered;
// orders that cannot rest only need their immediately executable cost.
func (e *Engine) requiredFunding(req PlaceRequest, qty int64, scan scanResult) int64 {
	resting := req.TIF == book.GTC || req.TIF == book.PostOnly

	if req.Side == book.Sell {
		if resting {
			return qty
		}
		if scan.qty < qty {
			return scan.qty
		}
		return qty
	}

	// Buys pay quote.
	if resting {
		return e.mkt.QuoteNotional(req.Price, qty)
	}
	// IOC/FOK: cost of the fillable part at level prices.
	return scan.cost
}

// fundableQty converts a degraded funding amount back into an executable
// quantity for the order's denomination.
func (e *Engine) fundableQty(o *book.Order, funded int64) int64 {
	if o.Side == book.Sell {
		return funded
	}
	if o.Type == book.Limit {
		q := e.mkt.BaseFromQuote(o.Price, funded)
		q -= q % e.mkt.LotSize
		return q
	}
	// Market buys are budget-walked; keep the nominal quantity and let the
	// locked budget stop the loop.
	return o.Qty
}

// match runs the unified price-time matching loop. The taker's locked
// balance is its spend budget; for buys it converts to base per level via
// the market's decimals, for sells it caps the base amount directly.
func (e *Engine) match(taker *book.Order, req PlaceRequest, nowMs int64, result *PlaceResult) error {
	opp := e.book.Opposing(taker.Side)
	store := e.book.Orders
	refPrice := int64(-1)

	// The walk continues even with a zero budget: expired makers at the
	// front of a level are still evicted on contact, and the budget caps
	// below stop any actual fill.
	lvl := opp.Best()
	for lvl != nil && taker.Remaining() > 0 {
		if taker.Type == book.Limit && !crosses(taker.Side, taker.Price, lvl.Price) {
			break
		}
		if taker.Type == book.Market && req.SlippageBps > 0 {
			if refPrice < 0 {
				refPrice = lvl.Price
			}
			if exceedsSlippage(taker.Side, refPrice, lvl.Price, req.SlippageBps) {
				break
			}
		}

		price := lvl.Price
		cur := lvl.Head()
		for cur != book.NilOrderID && taker.Remaining() > 0 {
			maker := store.Get(cur)
			next := lvl.After(store, cur)

			if maker.ExpiredAt(nowMs) {
				e.removeResting(maker, lvl, book.Expired)
				cur = next
				continue
			}
			if maker.Owner == taker.Owner {
				// Self-trade prevention: leave own resting order untouched.
				cur = next
				continue
			}

			amount := minInt64(taker.Remaining(), maker.Remaining())

			// Taker budget cap at this level's price.
			if taker.Side == book.Buy {
				if affordable := e.mkt.BaseFromQuote(price, taker.Locked); amount > affordable {
					amount = affordable
				}
			} else if amount > taker.Locked {
				amount = taker.Locked
			}
			if amount <= 0 {
				// Budget exhausted.
				lvl = nil
				break
			}

			// Maker-leg funding through the same coordinator chokepoint,
			// symmetric for base- and quote-denominated shortfalls.
			amount = e.fundMakerLeg(maker, price, amount)
			if amount <= 0 {
				// Maker cannot fund any part of the fill: evict it rather
				// than let an unfundable order block the queue.
				e.removeResting(maker, lvl, book.Cancelled)
				cur = next
				continue
			}

			if err := e.settleFill(taker, maker, lvl, price, amount, result); err != nil {
				return err
			}

			if maker.Remaining() == 0 {
				maker.Status = book.Filled
				lvl.Remove(store, maker.ID)
			} else {
				maker.Status = book.PartiallyFilled
			}
			e.emit.Emit(events.OrderUpdated{ID: maker.ID, Filled: maker.Filled, Status: maker.Status.String()})

			if err := e.checkFillInvariants(taker, maker); err != nil {
				return err
			}
			cur = next
		}
		if lvl == nil {
			break
		}
		opp.RemoveIfEmpty(price)
		lvl = opp.Next(price)
	}
	return nil
}

// fundMakerLeg secures the maker's side of a fill of amount at price,
// borrowing its shortfall when the maker opted in. Returns the amount the
// maker can actually settle, possibly reduced.
func (e *Engine) fundMakerLeg(maker *book.Order, price, amount int64) int64 {
	asset := e.spendAsset(maker.Side)
	var required int64
	if maker.Side == book.Sell {
		required = amount
	} else {
		required = e.mkt.QuoteNotional(price, amount)
	}
	if maker.Locked >= required {
		return amount
	}

	short := required - maker.Locked
	outcome := e.coord.EnsureFunded(maker.Owner, asset, short, maker.Side, maker.ID, maker.AutoBorrow)
	if outcome.Amount > 0 {
		if err := e.ledger.Lock(maker.Owner, asset, outcome.Amount); err == nil {
			maker.Locked += outcome.Amount
		} else {
			e.log.Error("maker lock after funding failed", zap.Uint64("order_id", uint64(maker.ID)), zap.Error(err))
		}
	}
	if maker.Locked >= required {
		return amount
	}

	// Degrade the fill to what the maker's funding covers.
	if maker.Side == book.Sell {
		return maker.Locked
	}
	return e.mkt.BaseFromQuote(price, maker.Locked)
}

// settleFill moves both legs of a fill of amount at price and routes
// auto-repay proceeds. Book structures are only touched after funding for
// the fill is fully known.
func (e *Engine) settleFill(taker, maker *book.Order, lvl *book.PriceLevel, price, amount int64, result *PlaceResult) error {
	quoteAmt := e.mkt.QuoteNotional(price, amount)
	base, quote := e.mkt.BaseAsset, e.mkt.QuoteAsset

	buyer, seller := taker, maker
	if taker.Side == book.Sell {
		buyer, seller = maker, taker
	}

	if err := e.ledger.TransferLocked(buyer.Owner, seller.Owner, quote, quoteAmt); err != nil {
		return fmt.Errorf("%w: quote leg: %v", ErrInvariant, err)
	}
	if err := e.ledger.TransferLocked(seller.Owner, buyer.Owner, base, amount); err != nil {
		return fmt.Errorf("%w: base leg: %v", ErrInvariant, err)
	}
	buyer.Locked -= quoteAmt
	seller.Locked -= amount

	// A buy limit locked at its own price but filled better: release the
	// difference immediately so the lock tracks the unfilled remainder.
	if buyer.Type == book.Limit && buyer.Price > price {
		excess := e.mkt.QuoteNotional(buyer.Price, amount) - quoteAmt
		if excess > 0 {
			if err := e.ledger.Unlock(buyer.Owner, quote, excess); err != nil {
				return fmt.Errorf("%w: price-improvement unlock: %v", ErrInvariant, err)
			}
			buyer.Locked -= excess
		}
	}

	taker.Filled += amount
	maker.Filled += amount
	lvl.Reduce(amount)

	// Proceeds legs: buyer received base, seller received quote.
	buyerRepaid := e.coord.SettleProceeds(buyer.Owner, base, amount, buyer.ID, buyer.AutoRepay)
	sellerRepaid := e.coord.SettleProceeds(seller.Owner, quote, quoteAmt, seller.ID, seller.AutoRepay)
	if taker == buyer {
		result.Repaid += buyerRepaid
	} else {
		result.Repaid += sellerRepaid
	}

	trade := uuid.NewString()
	ts := e.clock.Now().UnixMilli()
	result.Fills = append(result.Fills, Fill{TradeID: trade, MakerID: maker.ID, Price: price, Qty: amount})
	e.emit.Emit(events.OrderMatched{
		TradeID:   trade,
		Symbol:    e.mkt.Symbol,
		TakerID:   taker.ID,
		MakerID:   maker.ID,
		Price:     price,
		Qty:       amount,
		Timestamp: ts,
	})

	e.log.Debug("fill",
		zap.String("symbol", e.mkt.Symbol),
		zap.Uint64("taker", uint64(taker.ID)),
		zap.Uint64("maker", uint64(maker.ID)),
		zap.Int64("price", price),
		zap.Int64("qty", amount),
	)
	return nil
}

// finishPlacement rests or discards the remainder per time-in-force and
// emits the final taker update.
func (e *Engine) finishPlacement(taker *book.Order, result *PlaceResult) {
	switch {
	case taker.Qty > 0 && taker.Remaining() == 0:
		taker.Status = book.Filled
		e.releaseLeftoverLock(taker)

	case taker.TIF == book.GTC || taker.TIF == book.PostOnly:
		if taker.Locked == 0 && !taker.AutoBorrow {
			// Nothing fundable remains; an unfunded order may not rest.
			taker.Status = book.Cancelled
		} else {
			lvl := e.book.SideIndexFor(taker.Side).GetOrCreate(taker.Price)
			lvl.Append(e.book.Orders, taker.ID)
			if taker.Filled > 0 {
				taker.Status = book.PartiallyFilled
			} else {
				taker.Status = book.Open
			}
		}

	default:
		// IOC / market / funding-shrunk: discard the remainder. The order
		// ends PartiallyFilled or Cancelled by available liquidity, never
		// re-queued.
		if taker.Filled > 0 {
			taker.Status = book.PartiallyFilled
		} else {
			taker.Status = book.Cancelled
		}
		e.releaseLeftoverLock(taker)
	}

	result.Status = taker.Status
	result.Filled = taker.Filled
	result.Remaining = taker.Remaining()
	e.emit.Emit(events.OrderUpdated{ID: taker.ID, Filled: taker.Filled, Status: taker.Status.String()})
}

func (e *Engine) releaseLeftoverLock(o *book.Order) {
	if o.Locked <= 0 {
		return
	}
	if err := e.ledger.Unlock(o.Owner, e.spendAsset(o.Side), o.Locked); err != nil {
		e.log.Error("leftover unlock failed", zap.Uint64("order_id", uint64(o.ID)), zap.Error(err))
		return
	}
	o.Locked = 0
}

// Cancel removes the caller's resting order, releasing its remaining lock.
func (e *Engine) Cancel(caller common.Address, id book.OrderID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.book.Orders.Get(id)
	if o == nil {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Owner != caller {
		return fmt.Errorf("%w: order %d belongs to %s", ErrUnauthorized, id, o.Owner.Hex())
	}
	if !o.Resting() {
		// Covers terminal orders and PartiallyFilled records whose IOC
		// remainder was discarded: neither holds a queue position, and
		// unlinking one would corrupt whatever level lives at its price.
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotFound, id, o.Status)
	}

	lvl := e.book.SideIndexFor(o.Side).Find(o.Price)
	if lvl == nil {
		return fmt.Errorf("%w: resting order %d has no price level", ErrInvariant, id)
	}
	e.removeResting(o, lvl, book.Cancelled)
	e.book.SideIndexFor(o.Side).RemoveIfEmpty(o.Price)
	return nil
}

// removeResting takes an order out of its queue, releases its lock and
// emits the terminal events. The caller drops the level from the index if
// it emptied (except inside the matching loop, which does so as it walks).
func (e *Engine) removeResting(o *book.Order, lvl *book.PriceLevel, terminal book.Status) {
	lvl.Remove(e.book.Orders, o.ID)
	e.releaseLeftoverLock(o)
	o.Status = terminal

	switch terminal {
	case book.Expired:
		e.emit.Emit(events.OrderExpired{ID: o.ID})
	case book.Cancelled:
		e.emit.Emit(events.OrderCancelled{ID: o.ID})
	}
	e.emit.Emit(events.OrderUpdated{ID: o.ID, Filled: o.Filled, Status: o.Status.String()})
}

// checkFillInvariants guards the must-never-happen conditions. A violation
// halts the current operation; book state up to the last consistent fill is
// preserved.
func (e *Engine) checkFillInvariants(taker, maker *book.Order) error {
	if taker.Filled > taker.Qty {
		return fmt.Errorf("%w: taker %d filled %d > qty %d", ErrInvariant, taker.ID, taker.Filled, taker.Qty)
	}
	if maker.Filled > maker.Qty {
		return fmt.Errorf("%w: maker %d filled %d > qty %d", ErrInvariant, maker.ID, maker.Filled, maker.Qty)
	}
	if taker.Locked < 0 || maker.Locked < 0 {
		return fmt.Errorf("%w: negative order lock", ErrInvariant)
	}
	return nil
}

// Order returns a copy of the record for id.
func (e *Engine) Order(id book.OrderID) (book.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o := e.book.Orders.Get(id)
	if o == nil {
		return book.Order{}, false
	}
	return *o, true
}

// Depth returns aggregated bid/ask levels, best first.
func (e *Engine) Depth(max int) (bids, asks []book.LevelSummary) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Bids.Depth(max), e.book.Asks.Depth(max)
}

// OpenOrders returns copies of the owner's resting orders.
func (e *Engine) OpenOrders(owner common.Address) []book.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []book.Order
	e.book.Orders.Each(func(o *book.Order) bool {
		if o.Owner == owner && o.Resting() {
			out = append(out, *o)
		}
		return true
	})
	return out
}

func crosses(takerSide book.Side, takerLimit, levelPrice int64) bool {
	if takerSide == book.Buy {
		return levelPrice <= takerLimit
	}
	return levelPrice >= takerLimit
}

func exceedsSlippage(takerSide book.Side, refPrice, levelPrice, bps int64) bool {
	drift := refPrice * bps / 10000
	if takerSide == book.Buy {
		return levelPrice > refPrice+drift
	}
	return levelPrice < refPrice-drift
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
