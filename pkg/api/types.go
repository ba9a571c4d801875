package api

// REST request/response types. All quantities are integers in the market's
// native units: prices in ticks, base amounts in lots, quote amounts in the
// quote asset's smallest unit.

// MarketInfo describes a listed market
type MarketInfo struct {
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	Status       string `json:"status"`
	BaseDecimals int    `json:"baseDecimals"`
	TickSize     int64  `json:"tickSize"`
	LotSize      int64  `json:"lotSize"`
	MinNotional  int64  `json:"minNotional"`
	MinOrderSize int64  `json:"minOrderSize"`
	MaxOrderSize int64  `json:"maxOrderSize"`
}

// PriceLevel is one aggregated level in an orderbook snapshot
type PriceLevel struct {
	Price  int64 `json:"price"`
	Size   int64 `json:"size"`
	Orders int   `json:"orders"`
}

// OrderbookSnapshot is the depth response
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// SubmitOrderRequest places an order
type SubmitOrderRequest struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`        // "buy" | "sell"
	Type        string `json:"type"`        // "limit" | "market"
	TIF         string `json:"tif"`         // "GTC" | "IOC" | "FOK" | "PostOnly"
	Price       int64  `json:"price"`       // limit orders
	Qty         int64  `json:"qty"`         // base units
	QuoteAmount int64  `json:"quoteAmount"` // market buys sized by spend
	SlippageBps int64  `json:"slippageBps"`
	Expiry      int64  `json:"expiry"` // unix ms, 0 = none
	AutoBorrow  bool   `json:"autoBorrow"`
	AutoRepay   bool   `json:"autoRepay"`
}

// FillInfo is one match reported back to the taker
type FillInfo struct {
	TradeID string `json:"tradeId"`
	MakerID uint64 `json:"makerId"`
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
}

// SubmitOrderResponse reports the complete placement outcome
type SubmitOrderResponse struct {
	OrderID   uint64     `json:"orderId"`
	Status    string     `json:"status"`
	Filled    int64      `json:"filled"`
	Remaining int64      `json:"remaining"`
	Borrowed  int64      `json:"borrowed"`
	Repaid    int64      `json:"repaid"`
	Fills     []FillInfo `json:"fills,omitempty"`
}

// CancelOrderRequest cancels a resting order
type CancelOrderRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	OrderID uint64 `json:"orderId"`
}

// OrderInfo is an order record response
type OrderInfo struct {
	OrderID    uint64 `json:"orderId"`
	Owner      string `json:"owner"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	TIF        string `json:"tif"`
	Price      int64  `json:"price"`
	Qty        int64  `json:"qty"`
	Filled     int64  `json:"filled"`
	Remaining  int64  `json:"remaining"`
	Status     string `json:"status"`
	Expiry     int64  `json:"expiry"`
	AutoBorrow bool   `json:"autoBorrow"`
	AutoRepay  bool   `json:"autoRepay"`
	CreatedAt  int64  `json:"createdAt"`
}

// BalanceInfo is one asset row in an account response
type BalanceInfo struct {
	Asset     string `json:"asset"`
	Total     int64  `json:"total"`
	Locked    int64  `json:"locked"`
	Available int64  `json:"available"`
	Debt      int64  `json:"debt"`
}

// AccountInfo is the account snapshot response
type AccountInfo struct {
	Address      string        `json:"address"`
	Balances     []BalanceInfo `json:"balances"`
	HealthFactor int64         `json:"healthFactor"`
}

// TransferRequest deposits or withdraws
type TransferRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// TradeInfo is a trade history row
type TradeInfo struct {
	TradeID   string `json:"tradeId"`
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription message
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is pushed on the "orderbook:{symbol}" channel
type OrderbookUpdate struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}
