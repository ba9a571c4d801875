// Package events defines the notifications the exchange core emits for
// indexers, the websocket feed and the persistent journal.
package events

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/book"
)

type Type string

const (
	TypeOrderPlaced     Type = "order_placed"
	TypeOrderMatched    Type = "order_matched"
	TypeOrderUpdated    Type = "order_updated"
	TypeOrderCancelled  Type = "order_cancelled"
	TypeOrderExpired    Type = "order_expired"
	TypeBorrowTriggered Type = "borrow_triggered"
	TypeBorrowFailed    Type = "borrow_failed"
	TypeRepayTriggered  Type = "repay_triggered"
)

// Event is implemented by every emitted payload.
type Event interface {
	EventType() Type
}

// Emitter consumes events synchronously, in emission order. Implementations
// must not fail: event delivery is informational and never aborts a trade.
type Emitter interface {
	Emit(Event)
}

type OrderPlaced struct {
	ID         book.OrderID   `json:"id"`
	Owner      common.Address `json:"owner"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	Type       string         `json:"type"`
	TIF        string         `json:"tif"`
	Price      int64          `json:"price,omitempty"`
	Qty        int64          `json:"qty"`
	AutoBorrow bool           `json:"auto_borrow"`
	AutoRepay  bool           `json:"auto_repay"`
}

func (OrderPlaced) EventType() Type { return TypeOrderPlaced }

type OrderMatched struct {
	TradeID   string       `json:"trade_id"`
	Symbol    string       `json:"symbol"`
	TakerID   book.OrderID `json:"taker_id"`
	MakerID   book.OrderID `json:"maker_id"`
	Price     int64        `json:"price"`
	Qty       int64        `json:"qty"`
	Timestamp int64        `json:"timestamp"`
}

func (OrderMatched) EventType() Type { return TypeOrderMatched }

type OrderUpdated struct {
	ID     book.OrderID `json:"id"`
	Filled int64        `json:"filled"`
	Status string       `json:"status"`
}

func (OrderUpdated) EventType() Type { return TypeOrderUpdated }

type OrderCancelled struct {
	ID book.OrderID `json:"id"`
}

func (OrderCancelled) EventType() Type { return TypeOrderCancelled }

type OrderExpired struct {
	ID book.OrderID `json:"id"`
}

func (OrderExpired) EventType() Type { return TypeOrderExpired }

type BorrowTriggered struct {
	User    common.Address `json:"user"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
	OrderID book.OrderID   `json:"order_id"`
}

func (BorrowTriggered) EventType() Type { return TypeBorrowTriggered }

// BorrowFailed signals a recoverable funding degradation: the trade went
// ahead at whatever size the available balance covered.
type BorrowFailed struct {
	User    common.Address `json:"user"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
	OrderID book.OrderID   `json:"order_id"`
	Reason  string         `json:"reason"`
}

func (BorrowFailed) EventType() Type { return TypeBorrowFailed }

type RepayTriggered struct {
	User    common.Address `json:"user"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
	OrderID book.OrderID   `json:"order_id"`
}

func (RepayTriggered) EventType() Type { return TypeRepayTriggered }

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// Recorder collects events in memory. Test helper and debugging aid.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// OfType returns the recorded events matching t, in emission order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// Logger emits events as structured zap entries.
type Logger struct {
	Log *zap.Logger
}

func (l Logger) Emit(e Event) {
	l.Log.Info("event", zap.String("type", string(e.EventType())), zap.Any("payload", e))
}
