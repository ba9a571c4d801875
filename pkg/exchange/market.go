package exchange

import (
	"fmt"
	"sync/atomic"
)

// MarketStatus defines the trading status of a market.
type MarketStatus int8

const (
	Active MarketStatus = iota // trading enabled
	Paused                     // trading halted (emergency)
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Market defines the parameters of one trading pair (e.g. sBTC-sUSD).
//
// Prices are integer ticks of the quote asset per whole base unit.
// Quantities are integer base units scaled by 10^BaseDecimals, so
//
//	quote notional = price × qty / 10^BaseDecimals
//	base amount    = quote amount × 10^BaseDecimals / price
type Market struct {
	Symbol     string // "sBTC-sUSD"
	BaseAsset  string // "sBTC"
	QuoteAsset string // "sUSD"

	// status is atomic: the engine reads it on every placement while admin
	// pause/resume writes arrive outside the matching goroutine.
	status atomic.Int32

	// BaseDecimals fixes the base-unit scale; UnitScale caches 10^BaseDecimals.
	BaseDecimals int
	UnitScale    int64

	TickSize    int64 // minimum price increment
	LotSize     int64 // minimum quantity increment, in base units
	MinNotional int64 // minimum order value in quote units; rejects dust

	MinOrderSize int64 // in base units
	MaxOrderSize int64 // single-order cap, bounds notional arithmetic
}

// MarketParams separates construction config from the runtime Market struct.
type MarketParams struct {
	BaseDecimals int
	TickSize     int64
	LotSize      int64
	MinNotional  int64
	MinOrderSize int64
	MaxOrderSize int64
}

// DefaultParams is a sane devnet market: 2 base decimals (qty 100 = 1.00
// base unit), tick 1, no dust below 10 quote units.
var DefaultParams = MarketParams{
	BaseDecimals: 2,
	TickSize:     1,
	LotSize:      1,
	MinNotional:  10,
	MinOrderSize: 1,
	MaxOrderSize: 1_000_000_000,
}

func NewMarket(symbol, baseAsset, quoteAsset string, p MarketParams) (*Market, error) {
	scale := int64(1)
	for i := 0; i < p.BaseDecimals; i++ {
		scale *= 10
	}
	m := &Market{
		Symbol:       symbol,
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		BaseDecimals: p.BaseDecimals,
		UnitScale:    scale,
		TickSize:     p.TickSize,
		LotSize:      p.LotSize,
		MinNotional:  p.MinNotional,
		MinOrderSize: p.MinOrderSize,
		MaxOrderSize: p.MaxOrderSize,
	}
	m.status.Store(int32(Active))
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Status returns the market's trading status.
func (m *Market) Status() MarketStatus {
	return MarketStatus(m.status.Load())
}

// SetStatus pauses or resumes trading.
func (m *Market) SetStatus(st MarketStatus) {
	m.status.Store(int32(st))
}

// NewMarketWithDefaults creates a market using DefaultParams.
func NewMarketWithDefaults(symbol, baseAsset, quoteAsset string) (*Market, error) {
	return NewMarket(symbol, baseAsset, quoteAsset, DefaultParams)
}

// Validate checks market parameter sanity.
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.BaseDecimals < 0 || m.BaseDecimals > 12 {
		return fmt.Errorf("base decimals out of range: %d", m.BaseDecimals)
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if m.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}
	if m.MinOrderSize <= 0 || m.MaxOrderSize < m.MinOrderSize {
		return fmt.Errorf("order size bounds invalid: min=%d max=%d", m.MinOrderSize, m.MaxOrderSize)
	}
	return nil
}

// QuoteNotional returns the quote value of qty base units at price.
func (m *Market) QuoteNotional(price, qty int64) int64 {
	return price * qty / m.UnitScale
}

// BaseFromQuote converts a quote budget into the base amount purchasable at
// price, rounding down.
func (m *Market) BaseFromQuote(price, quoteAmount int64) int64 {
	if price <= 0 {
		return 0
	}
	return quoteAmount * m.UnitScale / price
}
