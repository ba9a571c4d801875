package book

// SideIndex is the ordered collection of price levels for one side of the
// book. Bids are traversed best-first from the highest price, asks from the
// lowest. Ties at equal price are broken purely by the level's FIFO queue;
// the index never reorders within a level.
type SideIndex struct {
	side Side
	tree *tree
}

func NewSideIndex(side Side) *SideIndex {
	return &SideIndex{side: side, tree: newTree()}
}

func (x *SideIndex) Side() Side { return x.side }

// Len returns the number of price levels.
func (x *SideIndex) Len() int { return x.tree.len() }

// GetOrCreate returns the level at price, creating an empty one if absent.
// Idempotent: calling it twice for the same price returns the same level.
func (x *SideIndex) GetOrCreate(price int64) *PriceLevel {
	return x.tree.upsert(price)
}

// Find returns the level at price, or nil.
func (x *SideIndex) Find(price int64) *PriceLevel {
	return x.tree.find(price)
}

// RemoveIfEmpty drops the level at price from the index when it holds no
// orders. Returns true if a level was removed.
func (x *SideIndex) RemoveIfEmpty(price int64) bool {
	lvl := x.tree.find(price)
	if lvl == nil || !lvl.Empty() {
		return false
	}
	return x.tree.delete(price)
}

// Best returns the most aggressive level: highest bid or lowest ask. Nil
// means the side has no liquidity, which callers must treat as an empty
// book, not an error.
func (x *SideIndex) Best() *PriceLevel {
	if x.side == Buy {
		return x.tree.max()
	}
	return x.tree.min()
}

// Next returns the next-worse level after price: the next-lower bid or the
// next-higher ask. Used when a market order walks the book.
func (x *SideIndex) Next(price int64) *PriceLevel {
	if x.side == Buy {
		return x.tree.predecessor(price)
	}
	return x.tree.successor(price)
}

// Walk visits levels best-to-worst until fn returns false.
func (x *SideIndex) Walk(fn func(*PriceLevel) bool) {
	if x.side == Buy {
		x.tree.descend(fn)
	} else {
		x.tree.ascend(fn)
	}
}

// LevelSummary is an aggregated depth row for snapshots.
type LevelSummary struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Orders int   `json:"orders"`
}

// Depth returns up to max aggregated levels, best first. max <= 0 returns
// every level.
func (x *SideIndex) Depth(max int) []LevelSummary {
	var out []LevelSummary
	x.Walk(func(lvl *PriceLevel) bool {
		out = append(out, LevelSummary{Price: lvl.Price, Volume: lvl.TotalVolume, Orders: lvl.OrderCount})
		return max <= 0 || len(out) < max
	})
	return out
}
