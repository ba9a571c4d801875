package book

import (
	"github.com/ethereum/go-ethereum/common"
)

// OrderID is a book-scoped numeric order id. IDs are assigned sequentially
// starting at 1; 0 means "no order" and is used as the list terminator in
// queue links.
type OrderID uint64

const NilOrderID OrderID = 0

// Side of the book an order belongs to.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the side an order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes resting-capable limit orders from market sweeps.
type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "limit"
	}
	return "market"
}

// TimeInForce controls what happens to the unmatched remainder of an order.
type TimeInForce int8

const (
	GTC TimeInForce = iota // rest the remainder on the book
	IOC                    // fill what is possible now, discard the rest
	FOK                    // fill entirely or reject with no state change
	PostOnly               // reject if the order would take liquidity
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "PostOnly"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of an order.
// Open → {PartiallyFilled → Filled | Cancelled | Expired} | Rejected.
// Rejected is only reachable before the order is inserted into the book.
// PartiallyFilled is terminal for IOC/market orders whose remainder was
// discarded.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is a single order record. Quantities are base units scaled by the
// market's base decimals; prices are integer ticks of the quote asset per
// whole base unit.
type Order struct {
	ID     OrderID
	Owner  common.Address
	Symbol string
	Side   Side
	Type   OrderType
	TIF    TimeInForce

	Price  int64 // limit price in ticks; 0 for market orders
	Qty    int64 // total quantity in base units
	Filled int64 // quantity filled so far

	Status Status

	// Expiry is a Unix-millisecond deadline; 0 means no expiry. Expiry is
	// evaluated lazily when the order is encountered during matching, never
	// by a background timer.
	Expiry int64

	AutoBorrow bool // borrow the funding shortfall instead of shrinking the fill
	AutoRepay  bool // route trade proceeds into outstanding debt first

	// Locked is the amount of the order's spend asset currently locked for
	// its unfilled remainder (quote for buys, base for sells). An order with
	// AutoBorrow set may rest under-locked after a degraded borrow; the
	// shortfall is retried per fill.
	Locked int64

	CreatedAt int64 // Unix milliseconds

	// Queue links: neighbouring order ids inside the order's price level.
	// Valid only while queued is set.
	prev, next OrderID

	// queued is maintained exclusively by PriceLevel.Append/Remove. Status
	// alone cannot distinguish a queued PartiallyFilled order from one whose
	// remainder was discarded, so queue membership gets its own flag.
	queued bool
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Resting reports whether the order currently sits in a price-level queue.
// A PartiallyFilled order whose IOC remainder was discarded is not resting
// even though its status looks live.
func (o *Order) Resting() bool {
	return o.queued
}

// Terminal reports whether the order has reached a final state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case Filled, Cancelled, Rejected, Expired:
		return true
	case PartiallyFilled:
		// Terminal for discarded IOC/market remainders, which have no queue
		// position.
		return !o.queued
	default:
		return false
	}
}

// ExpiredAt reports whether the order's deadline has passed at the given
// Unix-millisecond timestamp.
func (o *Order) ExpiredAt(nowMs int64) bool {
	return o.Expiry != 0 && o.Expiry <= nowMs
}
