package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/events"
)

// Envelope wraps a journaled event with its assigned sequence number.
type Envelope struct {
	Seq     uint64          `json:"seq"`
	Type    events.Type     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Journal is an append-only Pebble log of exchange events. It implements
// events.Emitter: every emitted event gets the next sequence number and is
// written synchronously before Emit returns, so the journal is a complete,
// ordered record of everything the exchange did. Emit never fails upward;
// a write error is logged and the sequence is still consumed.
type Journal struct {
	mu   sync.Mutex
	db   *pebble.DB
	next uint64
	log  *zap.Logger
}

func OpenJournal(path string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db, log: log}
	j.next, err = j.loadSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) loadSeq() (uint64, error) {
	val, closer, err := j.db.Get(seqKey())
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load journal sequence: %w", err)
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), nil
}

// Emit appends ev to the journal.
func (j *Journal) Emit(ev events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.next++
	seq := j.next

	payload, err := json.Marshal(ev)
	if err != nil {
		j.log.Error("journal marshal", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	env := Envelope{Seq: seq, Type: ev.EventType(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		j.log.Error("journal marshal envelope", zap.Uint64("seq", seq), zap.Error(err))
		return
	}

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(eventKey(seq), data, nil); err != nil {
		j.log.Error("journal set", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	var seqVal [8]byte
	binary.BigEndian.PutUint64(seqVal[:], seq)
	if err := batch.Set(seqKey(), seqVal[:], nil); err != nil {
		j.log.Error("journal set seq", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		j.log.Error("journal commit", zap.Uint64("seq", seq), zap.Error(err))
	}
}

// LastSeq returns the sequence of the most recent journaled event.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

// Replay calls fn for every envelope with sequence >= from, in order, until
// fn returns false or the log is exhausted.
func (j *Journal) Replay(from uint64, fn func(Envelope) bool) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(eventPrefix()),
	})
	if err != nil {
		return fmt.Errorf("journal iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var env Envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return fmt.Errorf("journal decode at %q: %w", iter.Key(), err)
		}
		if !fn(env) {
			return nil
		}
	}
	return iter.Error()
}

var _ events.Emitter = (*Journal)(nil)
