package exchange

import "testing"

func TestMarketConversions(t *testing.T) {
	// 2 base decimals: qty 100 = 1.00 base unit.
	m, err := NewMarketWithDefaults("WETH-USDC", "WETH", "USDC")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if m.UnitScale != 100 {
		t.Fatalf("unit scale: %d", m.UnitScale)
	}

	// 1.50 units at price 3000 = 4500 quote.
	if got := m.QuoteNotional(3000, 150); got != 4500 {
		t.Fatalf("notional: %d", got)
	}
	// 4500 quote at price 3000 buys 1.50 units back.
	if got := m.BaseFromQuote(3000, 4500); got != 150 {
		t.Fatalf("base from quote: %d", got)
	}
	// Rounds down, never up.
	if got := m.BaseFromQuote(3000, 4501); got != 150 {
		t.Fatalf("rounding: %d", got)
	}
	if got := m.BaseFromQuote(0, 100); got != 0 {
		t.Fatalf("zero price guard: %d", got)
	}
}

func TestMarketValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MarketParams)
	}{
		{"zero tick", func(p *MarketParams) { p.TickSize = 0 }},
		{"zero lot", func(p *MarketParams) { p.LotSize = 0 }},
		{"negative notional", func(p *MarketParams) { p.MinNotional = -1 }},
		{"max below min", func(p *MarketParams) { p.MinOrderSize = 10; p.MaxOrderSize = 5 }},
		{"decimals out of range", func(p *MarketParams) { p.BaseDecimals = 13 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams
			tc.mutate(&p)
			if _, err := NewMarket("WETH-USDC", "WETH", "USDC", p); err == nil {
				t.Fatal("invalid params accepted")
			}
		})
	}

	if _, err := NewMarket("", "WETH", "USDC", DefaultParams); err == nil {
		t.Fatal("empty symbol accepted")
	}
}
