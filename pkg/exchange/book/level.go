package book

// PriceLevel is the FIFO queue of resting orders at a single price. Orders
// are linked intrusively through their prev/next ids; removal is O(1) given
// the order's id. TotalVolume tracks the sum of remaining quantities and
// OrderCount the number of queued orders.
//
// A level knows nothing about the side index that owns it: callers are
// responsible for dropping a level from the index once it empties.
type PriceLevel struct {
	Price       int64
	TotalVolume int64
	OrderCount  int

	head, tail OrderID
}

// Append enqueues id at the tail of the level.
func (l *PriceLevel) Append(s *Store, id OrderID) {
	o := s.mustGet(id)
	o.prev, o.next = NilOrderID, NilOrderID
	o.queued = true

	if l.head == NilOrderID {
		l.head = id
		l.tail = id
	} else {
		t := s.mustGet(l.tail)
		t.next = id
		o.prev = l.tail
		l.tail = id
	}
	l.TotalVolume += o.Remaining()
	l.OrderCount++
}

// Remove unlinks id from anywhere in the queue. The order's remaining
// quantity is subtracted from TotalVolume.
func (l *PriceLevel) Remove(s *Store, id OrderID) {
	o := s.mustGet(id)

	if o.prev != NilOrderID {
		s.mustGet(o.prev).next = o.next
	} else {
		l.head = o.next
	}
	if o.next != NilOrderID {
		s.mustGet(o.next).prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev, o.next = NilOrderID, NilOrderID
	o.queued = false

	l.TotalVolume -= o.Remaining()
	l.OrderCount--
}

// Reduce subtracts a fill amount from TotalVolume without touching the
// queue. Called once per match, before any exhausted maker is removed.
func (l *PriceLevel) Reduce(amount int64) {
	l.TotalVolume -= amount
}

// Head returns the id at the front of the queue, or NilOrderID if empty.
func (l *PriceLevel) Head() OrderID {
	return l.head
}

// After returns the id queued immediately behind id.
func (l *PriceLevel) After(s *Store, id OrderID) OrderID {
	return s.mustGet(id).next
}

// Empty reports whether the queue holds no orders.
func (l *PriceLevel) Empty() bool {
	return l.head == NilOrderID
}
