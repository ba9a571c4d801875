package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/synthdex/synthclob/pkg/exchange/book"
)

// ErrGatewayClosed is returned for operations submitted after shutdown.
var ErrGatewayClosed = errors.New("gateway closed")

// Gateway serializes all order-flow mutation onto a single goroutine. Every
// placement and cancel runs to completion, margin calls and event emission
// included, before the next begins, so identical submission
// order always produces identical books and balances. Queries bypass the
// gateway and read under the engines' read locks.
type Gateway struct {
	x    *Exchange
	ops  chan func()
	stop chan struct{}
	done chan struct{}
	log  *zap.Logger
}

func NewGateway(x *Exchange, queueSize int, log *zap.Logger) *Gateway {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		x:    x,
		ops:  make(chan func(), queueSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
}

// Start runs the op loop until ctx is cancelled or Close is called.
func (g *Gateway) Start(ctx context.Context) {
	go func() {
		defer close(g.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			case op := <-g.ops:
				op()
			}
		}
	}()
	g.log.Info("gateway started")
}

// Close stops the op loop after the in-flight operation finishes.
func (g *Gateway) Close() {
	close(g.stop)
	<-g.done
}

// submit queues fn and waits for it to run. An op whose caller gives up
// before the loop reaches it is abandoned, never executed: the caller must
// not be told "cancelled" while the order still lands later.
func (g *Gateway) submit(ctx context.Context, fn func()) error {
	const (
		opPending int32 = iota
		opClaimed
		opAbandoned
	)
	var state atomic.Int32
	ran := make(chan struct{})
	wrapped := func() {
		if !state.CompareAndSwap(opPending, opClaimed) {
			return
		}
		fn()
		close(ran)
	}
	select {
	case g.ops <- wrapped:
	case <-g.done:
		return ErrGatewayClosed
	case <-ctx.Done():
		return fmt.Errorf("submit: %w", ctx.Err())
	}
	select {
	case <-ran:
		return nil
	case <-g.done:
		if state.CompareAndSwap(opPending, opAbandoned) {
			return ErrGatewayClosed
		}
		<-ran
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(opPending, opAbandoned) {
			return fmt.Errorf("await: %w", ctx.Err())
		}
		// The loop claimed the op before the deadline hit; it ran (or is
		// running) to completion, so report its real outcome.
		<-ran
		return nil
	}
}

// Place submits an order and waits for its full outcome.
func (g *Gateway) Place(ctx context.Context, symbol string, req PlaceRequest) (*PlaceResult, error) {
	var (
		res *PlaceResult
		err error
	)
	if serr := g.submit(ctx, func() {
		res, err = g.x.Place(symbol, req)
	}); serr != nil {
		return nil, serr
	}
	return res, err
}

// Cancel submits a cancel and waits for it.
func (g *Gateway) Cancel(ctx context.Context, symbol string, caller common.Address, id book.OrderID) error {
	var err error
	if serr := g.submit(ctx, func() {
		err = g.x.Cancel(symbol, caller, id)
	}); serr != nil {
		return serr
	}
	return err
}

// Deposit submits a balance credit through the op loop so that balance
// changes interleave deterministically with order flow.
func (g *Gateway) Deposit(ctx context.Context, user common.Address, asset string, amount int64) error {
	var err error
	if serr := g.submit(ctx, func() {
		err = g.x.Deposit(user, asset, amount)
	}); serr != nil {
		return serr
	}
	return err
}

// Withdraw submits a balance debit through the op loop.
func (g *Gateway) Withdraw(ctx context.Context, user common.Address, asset string, amount int64) error {
	var err error
	if serr := g.submit(ctx, func() {
		err = g.x.Withdraw(user, asset, amount)
	}); serr != nil {
		return serr
	}
	return err
}
