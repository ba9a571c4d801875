package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/exchange/events"
	"github.com/synthdex/synthclob/pkg/exchange/margin"
)

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	ledger := margin.NewLedger(nil)
	facility := margin.NewFacility(ledger, nil, 8000)
	facility.SetPrice("USDC", 1)
	facility.SetPrice("WETH", 3)
	x := New(ledger, facility, &events.Recorder{}, nil, nil)

	mkt, err := NewMarket("WETH-USDC", "WETH", "USDC", MarketParams{
		BaseDecimals: 0,
		TickSize:     1,
		LotSize:      1,
		MinNotional:  1,
		MinOrderSize: 1,
		MaxOrderSize: 1_000_000_000,
	})
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if err := x.ListMarket(mkt); err != nil {
		t.Fatalf("list: %v", err)
	}
	return x
}

func TestRegistryListAndStatus(t *testing.T) {
	x := newTestExchange(t)

	if _, err := x.Registry().Get("WETH-USDC"); err != nil {
		t.Fatalf("get listed market: %v", err)
	}
	if _, err := x.Registry().Get("DOGE-USDC"); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("unknown market: want ErrMarketNotFound got %v", err)
	}

	// Double listing is rejected.
	dup, _ := NewMarketWithDefaults("WETH-USDC", "WETH", "USDC")
	if err := x.Registry().List(dup); err == nil {
		t.Fatal("duplicate listing succeeded")
	}

	if err := x.Registry().SetStatus("WETH-USDC", Paused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	x.Deposit(alice, "USDC", 1000)
	if _, err := x.Place("WETH-USDC", limit(alice, book.Buy, 10, 5)); !errors.Is(err, ErrMarketPaused) {
		t.Fatalf("paused market accepted order: %v", err)
	}
	if err := x.Registry().SetStatus("WETH-USDC", Active); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := x.Place("WETH-USDC", limit(alice, book.Buy, 10, 5)); err != nil {
		t.Fatalf("resumed market rejected order: %v", err)
	}
}

func TestExchangeRoutesBySymbol(t *testing.T) {
	x := newTestExchange(t)
	x.Deposit(alice, "USDC", 1000)

	if _, err := x.Place("DOGE-USDC", limit(alice, book.Buy, 10, 5)); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("unknown symbol: %v", err)
	}

	res, err := x.Place("WETH-USDC", limit(alice, book.Buy, 10, 5))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := x.Cancel("WETH-USDC", alice, res.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := x.Cancel("DOGE-USDC", alice, res.OrderID); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("cancel on unknown symbol: %v", err)
	}
}

func TestExchangeBalances(t *testing.T) {
	x := newTestExchange(t)
	x.Deposit(alice, "USDC", 1000)
	x.Place("WETH-USDC", limit(alice, book.Buy, 10, 5))

	views := x.Balances(alice)
	v, ok := views["USDC"]
	if !ok {
		t.Fatal("missing USDC row")
	}
	if v.Total != 1000 || v.Locked != 50 || v.Available != 950 {
		t.Fatalf("balance view wrong: %+v", v)
	}

	if err := x.Withdraw(alice, "USDC", 951); err == nil {
		t.Fatal("withdraw into locked funds succeeded")
	}
	if err := x.Withdraw(alice, "USDC", 950); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
}

// TestGatewaySerializesConcurrentFlow hammers the gateway from many
// goroutines and checks the book and balances come out consistent - every
// submission ran to completion in some order.
func TestGatewaySerializesConcurrentFlow(t *testing.T) {
	x := newTestExchange(t)
	gw := NewGateway(x, 64, nil)
	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Close()

	const n = 50
	gw.Deposit(ctx, alice, "USDC", 10*n)
	gw.Deposit(ctx, bob, "WETH", n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := gw.Place(ctx, "WETH-USDC", limit(alice, book.Buy, 10, 1)); err != nil {
				t.Errorf("buy: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := gw.Place(ctx, "WETH-USDC", limit(bob, book.Sell, 10, 1)); err != nil {
				t.Errorf("sell: %v", err)
			}
		}()
	}
	wg.Wait()

	eng, _ := x.Engine("WETH-USDC")
	if eng.Book().Crossed() {
		t.Fatal("book crossed after concurrent flow")
	}

	// Every buy matches a sell eventually: aggregate conservation holds no
	// matter the interleaving.
	ledgerTotal := func(asset string) int64 {
		var total int64
		for _, user := range []common.Address{alice, bob} {
			if row, ok := x.Balances(user)[asset]; ok {
				total += row.Total
			}
		}
		return total
	}
	if got := ledgerTotal("USDC"); got != 10*n {
		t.Fatalf("USDC not conserved: %d", got)
	}
	if got := ledgerTotal("WETH"); got != n {
		t.Fatalf("WETH not conserved: %d", got)
	}
}

// TestConcurrentQueriesDuringOrderFlow runs read queries against the book
// while the gateway is mid-flow. Meaningful under -race: the queries must
// take the engine's read lock, not walk live book structures.
func TestConcurrentQueriesDuringOrderFlow(t *testing.T) {
	x := newTestExchange(t)
	gw := NewGateway(x, 64, nil)
	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Close()

	const n = 50
	gw.Deposit(ctx, alice, "USDC", 10*n)
	gw.Deposit(ctx, bob, "WETH", n)

	eng, _ := x.Engine("WETH-USDC")
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for id := book.OrderID(1); ; id++ {
			select {
			case <-stop:
				return
			default:
			}
			x.Depth("WETH-USDC", 10)
			eng.Order(id)
			eng.OpenOrders(alice)
			eng.Market().Status()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := gw.Place(ctx, "WETH-USDC", limit(alice, book.Buy, 10, 1)); err != nil {
				t.Errorf("buy: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := gw.Place(ctx, "WETH-USDC", limit(bob, book.Sell, 10, 1)); err != nil {
				t.Errorf("sell: %v", err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	if eng.Book().Crossed() {
		t.Fatal("book crossed after concurrent flow")
	}
}

// TestGatewayAbandonedOpNeverRuns covers the caller-gave-up path: an op whose
// submitter saw a cancellation error must not execute later.
func TestGatewayAbandonedOpNeverRuns(t *testing.T) {
	x := newTestExchange(t)
	gw := NewGateway(x, 8, nil)

	// The loop is not running yet, so the op (if enqueued at all) cannot be
	// claimed before the cancelled context aborts the wait.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gw.Deposit(cancelled, alice, "USDC", 100); err == nil {
		t.Fatal("deposit with cancelled context succeeded")
	}

	gw.Start(context.Background())
	defer gw.Close()
	if err := gw.Deposit(context.Background(), alice, "USDC", 7); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Only the second deposit may have landed.
	if row, ok := x.Balances(alice)["USDC"]; !ok || row.Total != 7 {
		t.Fatalf("abandoned deposit executed: %+v", x.Balances(alice))
	}
}

func TestGatewayClosedRejectsSubmissions(t *testing.T) {
	x := newTestExchange(t)
	gw := NewGateway(x, 8, nil)
	gw.Start(context.Background())
	gw.Close()

	if _, err := gw.Place(context.Background(), "WETH-USDC", limit(alice, book.Buy, 10, 1)); !errors.Is(err, ErrGatewayClosed) {
		t.Fatalf("want ErrGatewayClosed, got %v", err)
	}
}
