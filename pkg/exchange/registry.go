package exchange

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of listed markets. Listing is rare and
// administrative; reads happen on every order, so it is guarded by a
// read-write mutex rather than funneled through the gateway.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// List adds a market to the registry. Listing the same symbol twice is an
// error; market parameters are immutable once listed.
func (r *Registry) List(m *Market) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.Symbol]; ok {
		return fmt.Errorf("%w: %s already listed", ErrValidation, m.Symbol)
	}
	r.markets[m.Symbol] = m
	return nil
}

// Get returns the market for symbol.
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return m, nil
}

// Symbols returns all listed symbols in lexical order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.markets))
	for s := range r.markets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetStatus pauses or resumes trading on a market. Paused markets reject
// new orders; resting orders stay on the book and remain cancellable.
func (r *Registry) SetStatus(symbol string, status MarketStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	m.SetStatus(status)
	return nil
}
