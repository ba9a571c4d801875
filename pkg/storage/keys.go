package storage

import (
	"fmt"
)

// Pebble key schema:
//
//   evt:<seq>                       → event envelope (JSON)
//   trade:<symbol>:<timestamp>:<id> → trade record (JSON)
//   seq                             → last assigned event sequence
//
// Sequence and timestamp components are zero-padded (20 digits) so that
// lexicographic key order matches numeric order.

const (
	prefixEvent = "evt:"
	prefixTrade = "trade:"
)

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func eventPrefix() []byte {
	return []byte(prefixEvent)
}

func seqKey() []byte {
	return []byte("seq")
}

// tradeKey formats "trade:{symbol}:{timestamp}:{tradeID}".
func tradeKey(symbol string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, timestamp, tradeID))
}

// tradePrefix formats "trade:{symbol}:".
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
