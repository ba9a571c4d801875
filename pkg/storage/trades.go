package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/synthdex/synthclob/pkg/exchange/events"
)

// TradeLog persists matched trades for history queries, keyed so that a
// prefix scan over a symbol returns trades in time order. Writes are NoSync:
// the journal is the durable record, trade rows are a queryable projection.
type TradeLog struct {
	db *pebble.DB
}

func NewTradeLog(db *pebble.DB) *TradeLog {
	return &TradeLog{db: db}
}

// TradeLogFor reuses the journal's database for trade rows.
func TradeLogFor(j *Journal) *TradeLog {
	return &TradeLog{db: j.db}
}

// Record saves one match.
func (t *TradeLog) Record(m events.OrderMatched) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	key := tradeKey(m.Symbol, m.Timestamp, m.TradeID)
	if err := t.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// Recent returns up to limit trades for symbol, newest first.
func (t *TradeLog) Recent(symbol string, limit int) ([]events.OrderMatched, error) {
	prefix := tradePrefix(symbol)
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	var out []events.OrderMatched
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var m events.OrderMatched
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// Emit implements events.Emitter, recording only matches. Wire it into the
// emitter fan-out alongside the journal.
func (t *TradeLog) Emit(ev events.Event) {
	if m, ok := ev.(events.OrderMatched); ok {
		_ = t.Record(m)
	}
}

var _ events.Emitter = (*TradeLog)(nil)
