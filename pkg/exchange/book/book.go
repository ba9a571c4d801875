package book

// Book bundles the order arena with the two side indices for one market.
// It is a passive data structure: all mutation policy (matching, funding,
// time-in-force) lives in the engine. Single-writer by construction; see
// the exchange gateway.
type Book struct {
	Orders *Store
	Bids   *SideIndex
	Asks   *SideIndex
}

func New() *Book {
	return &Book{
		Orders: NewStore(),
		Bids:   NewSideIndex(Buy),
		Asks:   NewSideIndex(Sell),
	}
}

// SideIndexFor returns the index holding resting orders of the given side.
func (b *Book) SideIndexFor(s Side) *SideIndex {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}

// Opposing returns the index a taker of the given side matches against.
func (b *Book) Opposing(s Side) *SideIndex {
	return b.SideIndexFor(s.Opposite())
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (int64, bool) {
	lvl := b.Bids.Best()
	if lvl == nil {
		return 0, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (int64, bool) {
	lvl := b.Asks.Best()
	if lvl == nil {
		return 0, false
	}
	return lvl.Price, true
}

// Crossed reports whether the resting top-of-book is crossed. Must never be
// true between operations; exposed for invariant checks in tests.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid >= ask
}
