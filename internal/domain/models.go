// Package domain holds the core value types shared across the broker port,
// the strategy/risk pipeline, and the supervisor. Types here are plain data;
// behavior lives in the packages that consume them.
package domain

import "time"

// Segment classifies the kind of contract an Instrument represents.
type Segment string

const (
	SegmentEquity  Segment = "equity"
	SegmentFutures Segment = "futures"
	SegmentOptions Segment = "options"
)

// OptionType distinguishes call and put contracts.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Instrument identifies a tradable contract. It is immutable for the
// lifetime of a catalog snapshot and replaced wholesale on refresh.
type Instrument struct {
	Exchange        string     `json:"exchange"`
	TradingSymbol   string     `json:"trading_symbol"`
	InstrumentToken int64      `json:"instrument_token"`
	Segment         Segment    `json:"segment"`
	LotSize         int64      `json:"lot_size"`
	TickSize        float64    `json:"tick_size"`
	Expiry          *time.Time `json:"expiry,omitempty"`
	Strike          *float64   `json:"strike,omitempty"`
	OptionType      OptionType `json:"option_type,omitempty"`
}

// Key returns the (exchange, trading_symbol) identity tuple as a string,
// usable as a map key.
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.TradingSymbol
}

// Quote is a point-in-time snapshot of an instrument's market.
type Quote struct {
	InstrumentToken int64     `json:"instrument_token"`
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	Last            float64   `json:"last"`
	Volume          int64     `json:"volume"`
	Timestamp       time.Time `json:"timestamp"`
}

// Timeframe is one of the supported bar aggregation periods.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// ValidTimeframe reports whether tf is a recognized timeframe.
func ValidTimeframe(tf string) bool {
	switch Timeframe(tf) {
	case Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h, Timeframe1d:
		return true
	}
	return false
}

// Duration returns the wall-clock period a Timeframe aggregates, or zero for
// an unrecognized value.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe3m:
		return 3 * time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Bar is a single OHLCV candle. Final indicates the interval was still open
// when the bar was produced (a boundary bar from historical_bars).
type Bar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects how the broker should treat the price field.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeSL     OrderType = "sl"
	OrderTypeSLM    OrderType = "sl_m"
)

// Product governs margin treatment.
type Product string

const (
	ProductMIS  Product = "mis"
	ProductCNC  Product = "cnc"
	ProductNRML Product = "nrml"
)

// Validity governs order lifetime.
type Validity string

const (
	ValidityDay Validity = "day"
	ValidityIOC Validity = "ioc"
)

// OrderStatus is the broker-observed lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderComplete  OrderStatus = "complete"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status is absorbing.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderComplete, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// OrderIntent is a risk-sized prospective order, not yet submitted.
type OrderIntent struct {
	Instrument Instrument `json:"instrument"`
	Side       Side       `json:"side"`
	Quantity   int64      `json:"quantity"`
	OrderType  OrderType  `json:"order_type"`
	Price      float64    `json:"price,omitempty"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Product    Product    `json:"product"`
	Validity   Validity   `json:"validity"`
}

// Order is the broker-tracked instance of a submitted OrderIntent.
type Order struct {
	BrokerOrderID string      `json:"broker_order_id"`
	Intent        OrderIntent `json:"intent"`
	Status        OrderStatus `json:"status"`
	FilledQty     int64       `json:"filled_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Position is net open exposure in one instrument.
type Position struct {
	Instrument   Instrument `json:"instrument"`
	NetQuantity  int64      `json:"net_quantity"`
	AvgEntry     float64    `json:"avg_entry_price"`
	UnrealizedPL float64    `json:"unrealized_pnl"`
	RealizedPL   float64    `json:"realized_pnl"`
}

// Trade is an immutable fill record.
type Trade struct {
	Instrument  Instrument `json:"instrument"`
	Side        Side       `json:"side"`
	Quantity    int64      `json:"quantity"`
	Price       float64    `json:"price"`
	Timestamp   time.Time  `json:"timestamp"`
	OrderID     string     `json:"order_id"`
	Fees        float64    `json:"fees"`
}

// AccountSnapshot is a point-in-time read of the broker's account state.
type AccountSnapshot struct {
	Equity            float64   `json:"equity"`
	CashAvailable     float64   `json:"cash_available"`
	MarginUsed        float64   `json:"margin_used"`
	MarginAvailable   float64   `json:"margin_available"`
	RealizedPnLToday  float64   `json:"realized_pnl_today"`
	UnrealizedPnL     float64   `json:"unrealized_pnl"`
	Currency          string    `json:"currency"`
	AsOf              time.Time `json:"as_of"`
}

// DecisionKind is the tag of a strategy Decision.
type DecisionKind string

const (
	DecisionBuy  DecisionKind = "buy"
	DecisionSell DecisionKind = "sell"
	DecisionHold DecisionKind = "hold"
)

// Decision is a strategy evaluator's verdict for one instrument on one tick.
type Decision struct {
	Kind              DecisionKind `json:"kind"`
	Confidence        float64      `json:"confidence"`
	Reason            string       `json:"reason"`
	SuggestedStop     *float64     `json:"suggested_stop,omitempty"`
	SuggestedTarget   *float64     `json:"suggested_target,omitempty"`
}

// Hold builds a Hold decision carrying a reason; used pervasively for
// insufficient-data and evaluator-error paths.
func Hold(reason string) Decision {
	return Decision{Kind: DecisionHold, Reason: reason}
}

// ActivityKind classifies an Activity for filtering.
type ActivityKind string

const (
	ActivityAnalysis ActivityKind = "analysis"
	ActivitySignal   ActivityKind = "signal"
	ActivityOrder    ActivityKind = "order"
	ActivityPosition ActivityKind = "position"
	ActivityWarning  ActivityKind = "warning"
	ActivityError    ActivityKind = "error"
)

// ActivityLevel is the severity of an Activity, independent of its Kind.
type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "info"
	LevelSuccess ActivityLevel = "success"
	LevelWarning ActivityLevel = "warning"
	LevelError   ActivityLevel = "error"
)

// Activity is a typed operational event surfaced to the operator.
type Activity struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      ActivityKind           `json:"kind"`
	Level     ActivityLevel          `json:"level"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Credential is a per-broker secret bundle. Only ever held in memory once
// decrypted; the vault is the sole owner of its ciphertext form.
type Credential struct {
	Broker       string    `json:"broker"`
	APIKey       string    `json:"api_key"`
	APISecret    string    `json:"api_secret"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Redacted returns a form safe to log: one presence boolean per secret
// field, never the secret values themselves.
func (c Credential) Redacted() map[string]bool {
	return map[string]bool{
		"has_api_key":       c.APIKey != "",
		"has_api_secret":    c.APISecret != "",
		"has_access_token":  c.AccessToken != "",
		"has_refresh_token": c.RefreshToken != "",
	}
}
