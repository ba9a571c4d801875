package book

import "fmt"

// Store is a slot-map arena for order records. Orders live in a dense slice;
// removed slots go onto a free list and are reused by later inserts. Records
// are addressed by their numeric OrderID through a side index, so queue links
// can be small integer ids instead of native pointers.
type Store struct {
	nextID OrderID
	slots  []Order
	index  map[OrderID]int32 // id -> slot
	free   []int32           // reusable slots, LIFO
}

func NewStore() *Store {
	return &Store{
		nextID: 1,
		index:  make(map[OrderID]int32),
	}
}

// Add assigns the next id to the order, places it in a slot and returns the
// id. The order's queue links are reset.
func (s *Store) Add(o Order) OrderID {
	o.ID = s.nextID
	s.nextID++
	o.prev, o.next = NilOrderID, NilOrderID
	o.queued = false

	var slot int32
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[slot] = o
	} else {
		slot = int32(len(s.slots))
		s.slots = append(s.slots, o)
	}
	s.index[o.ID] = slot
	return o.ID
}

// NextID returns the id the next Add will assign. Only meaningful under the
// book's single-writer discipline, where no insert can interleave.
func (s *Store) NextID() OrderID {
	return s.nextID
}

// Get returns the live record for id, or nil if the id is unknown. The
// returned pointer is valid until the next Add or Remove.
func (s *Store) Get(id OrderID) *Order {
	slot, ok := s.index[id]
	if !ok {
		return nil
	}
	return &s.slots[slot]
}

// Remove releases the order's slot back to the free list. Removing an
// unknown id is a no-op.
func (s *Store) Remove(id OrderID) {
	slot, ok := s.index[id]
	if !ok {
		return
	}
	s.slots[slot] = Order{}
	delete(s.index, id)
	s.free = append(s.free, slot)
}

// Len returns the number of live records.
func (s *Store) Len() int {
	return len(s.index)
}

// Each calls fn for every live record, in unspecified order.
func (s *Store) Each(fn func(*Order) bool) {
	for _, slot := range s.index {
		if !fn(&s.slots[slot]) {
			return
		}
	}
}

// mustGet panics on a dangling id. Queue links are maintained exclusively by
// PriceLevel, so a miss here is a corruption bug, not a caller error.
func (s *Store) mustGet(id OrderID) *Order {
	o := s.Get(id)
	if o == nil {
		panic(fmt.Sprintf("book: dangling order id %d", id))
	}
	return o
}
