package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/synthdex/synthclob/pkg/exchange"
	"github.com/synthdex/synthclob/pkg/exchange/book"
	"github.com/synthdex/synthclob/pkg/storage"
	"github.com/synthdex/synthclob/pkg/util"
)

// Server handles REST API and WebSocket connections. Mutations go through
// the gateway so they serialize with the rest of the order flow; queries
// read the exchange directly.
type Server struct {
	x      *exchange.Exchange
	gw     *exchange.Gateway
	trades *storage.TradeLog
	router *mux.Router
	hub    *Hub
	clock  util.Clock
}

// NewServer creates a new API server. trades may be nil when trade history
// persistence is disabled; hub may be nil to have the server create its own.
func NewServer(x *exchange.Exchange, gw *exchange.Gateway, trades *storage.TradeLog, hub *Hub, clock util.Clock) *Server {
	if hub == nil {
		hub = NewHub()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	s := &Server{
		x:      x,
		gw:     gw,
		trades: trades,
		router: mux.NewRouter(),
		hub:    hub,
		clock:  clock,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for wiring into the event fan-out.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders/{id}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOpenOrders).Methods("GET")

	// Order flow
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Balance transfers
	api.HandleFunc("/transfers/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/transfers/withdraw", s.handleWithdraw).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func marketInfo(m *exchange.Market) MarketInfo {
	return MarketInfo{
		Symbol:       m.Symbol,
		BaseAsset:    m.BaseAsset,
		QuoteAsset:   m.QuoteAsset,
		Status:       m.Status().String(),
		BaseDecimals: m.BaseDecimals,
		TickSize:     m.TickSize,
		LotSize:      m.LotSize,
		MinNotional:  m.MinNotional,
		MinOrderSize: m.MinOrderSize,
		MaxOrderSize: m.MaxOrderSize,
	}
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	symbols := s.x.Registry().Symbols()
	response := make([]MarketInfo, 0, len(symbols))
	for _, sym := range symbols {
		m, err := s.x.Registry().Get(sym)
		if err != nil {
			continue
		}
		response = append(response, marketInfo(m))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.x.Registry().Get(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	depth := 50
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			depth = n
		}
	}

	bids, asks, err := s.x.Depth(symbol, depth)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	respondJSON(w, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      levelRows(bids),
		Asks:      levelRows(asks),
		Timestamp: s.clock.Now().UnixMilli(),
	})
}

func levelRows(levels []book.LevelSummary) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevel{Price: lvl.Price, Size: lvl.Volume, Orders: lvl.Orders}
	}
	return out
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if s.trades == nil {
		respondJSON(w, []TradeInfo{})
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	matches, err := s.trades.Recent(symbol, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}
	response := make([]TradeInfo, len(matches))
	for i, m := range matches {
		response[i] = TradeInfo{
			TradeID:   m.TradeID,
			Symbol:    m.Symbol,
			Price:     m.Price,
			Qty:       m.Qty,
			Timestamp: m.Timestamp,
		}
	}
	respondJSON(w, response)
}

func orderInfo(o book.Order) OrderInfo {
	return OrderInfo{
		OrderID:    uint64(o.ID),
		Owner:      o.Owner.Hex(),
		Symbol:     o.Symbol,
		Side:       o.Side.String(),
		Type:       o.Type.String(),
		TIF:        o.TIF.String(),
		Price:      o.Price,
		Qty:        o.Qty,
		Filled:     o.Filled,
		Remaining:  o.Remaining(),
		Status:     o.Status.String(),
		Expiry:     o.Expiry,
		AutoBorrow: o.AutoBorrow,
		AutoRepay:  o.AutoRepay,
		CreatedAt:  o.CreatedAt,
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.x.Order(vars["symbol"], book.OrderID(id))
	if err != nil {
		respondError(w, statusFor(err), "order lookup failed", err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	snapshot := s.x.Balances(addr)
	balances := make([]BalanceInfo, 0, len(snapshot))
	for asset, view := range snapshot {
		balances = append(balances, BalanceInfo{
			Asset:     asset,
			Total:     view.Total,
			Locked:    view.Locked,
			Available: view.Available,
			Debt:      s.x.Lending().Debt(addr, asset),
		})
	}

	respondJSON(w, AccountInfo{
		Address:      addr.Hex(),
		Balances:     balances,
		HealthFactor: s.x.Lending().HealthFactor(addr),
	})
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	var out []OrderInfo
	for _, sym := range s.x.Registry().Symbols() {
		eng, err := s.x.Engine(sym)
		if err != nil {
			continue
		}
		for _, o := range eng.OpenOrders(addr) {
			out = append(out, orderInfo(o))
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	place, err := placeRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	result, err := s.gw.Place(r.Context(), req.Symbol, place)
	if err != nil {
		respondError(w, statusFor(err), "order rejected", err.Error())
		return
	}

	log.Printf("[api] order placed: id=%d status=%s filled=%d", result.OrderID, result.Status, result.Filled)

	fills := make([]FillInfo, len(result.Fills))
	for i, f := range result.Fills {
		fills[i] = FillInfo{TradeID: f.TradeID, MakerID: uint64(f.MakerID), Price: f.Price, Qty: f.Qty}
	}
	respondJSON(w, SubmitOrderResponse{
		OrderID:   uint64(result.OrderID),
		Status:    result.Status.String(),
		Filled:    result.Filled,
		Remaining: result.Remaining,
		Borrowed:  result.Borrowed,
		Repaid:    result.Repaid,
		Fills:     fills,
	})
}

func placeRequest(req SubmitOrderRequest) (exchange.PlaceRequest, error) {
	side, err := parseSide(req.Side)
	if err != nil {
		return exchange.PlaceRequest{}, err
	}
	typ, err := parseType(req.Type)
	if err != nil {
		return exchange.PlaceRequest{}, err
	}
	tif, err := parseTIF(req.TIF, typ)
	if err != nil {
		return exchange.PlaceRequest{}, err
	}
	return exchange.PlaceRequest{
		Owner:       common.HexToAddress(req.Address),
		Side:        side,
		Type:        typ,
		TIF:         tif,
		Price:       req.Price,
		Qty:         req.Qty,
		QuoteAmount: req.QuoteAmount,
		SlippageBps: req.SlippageBps,
		Expiry:      req.Expiry,
		AutoBorrow:  req.AutoBorrow,
		AutoRepay:   req.AutoRepay,
	}, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	if req.OrderID == 0 {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	err := s.gw.Cancel(r.Context(), req.Symbol, common.HexToAddress(req.Address), book.OrderID(req.OrderID))
	if err != nil {
		respondError(w, statusFor(err), "cancel rejected", err.Error())
		return
	}

	log.Printf("[api] order cancelled: id=%d", req.OrderID)
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.gw.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.gw.Withdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, do func(ctx context.Context, user common.Address, asset string, amount int64) error) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	if err := do(r.Context(), common.HexToAddress(req.Address), req.Asset, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "transfer rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseSide(s string) (book.Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	}
	return 0, errors.New("side must be buy or sell")
}

func parseType(s string) (book.OrderType, error) {
	switch strings.ToLower(s) {
	case "limit":
		return book.Limit, nil
	case "market":
		return book.Market, nil
	}
	return 0, errors.New("type must be limit or market")
}

func parseTIF(s string, typ book.OrderType) (book.TimeInForce, error) {
	if s == "" {
		if typ == book.Market {
			return book.IOC, nil
		}
		return book.GTC, nil
	}
	switch strings.ToUpper(s) {
	case "GTC":
		return book.GTC, nil
	case "IOC":
		return book.IOC, nil
	case "FOK":
		return book.FOK, nil
	case "POSTONLY":
		return book.PostOnly, nil
	}
	return 0, errors.New("tif must be GTC, IOC, FOK or PostOnly")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrMarketNotFound), errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrValidation), errors.Is(err, exchange.ErrWouldCross),
		errors.Is(err, exchange.ErrInsufficientLiquidity), errors.Is(err, exchange.ErrMarketPaused):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
