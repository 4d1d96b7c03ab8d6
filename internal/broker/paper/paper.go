// Package paper implements a deterministic in-process broker simulator: the
// same Port every live adapter implements, but synthetic quotes and
// price-time-priority order matching instead of a vendor round-trip.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/broker"
	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
)

// Adapter is a deterministic paper-trading simulator. Quotes are a
// pseudo-random walk seeded by (instrument_token, epoch_second) so repeat
// runs with identical call sequences are reproducible, per spec.
type Adapter struct {
	mu               sync.Mutex
	connected        bool
	startingBalance  float64
	log              zerolog.Logger
	lastQuote        map[int64]domain.Quote
	orders           map[string]*domain.Order
	pendingByToken   map[int64][]*domain.Order
	positions        map[int64]*domain.Position
	trades           []domain.Trade
	realizedPnLToday float64
}

// New constructs a paper Adapter. startingBalance defaults to 100,000 (the
// spec's default, in the account's notional currency) when zero.
func New(startingBalance float64, log zerolog.Logger) *Adapter {
	if startingBalance <= 0 {
		startingBalance = 100_000
	}
	return &Adapter{
		startingBalance: startingBalance,
		log:             log.With().Str("component", "paper_broker").Logger(),
		lastQuote:       map[int64]domain.Quote{},
		orders:          map[string]*domain.Order{},
		pendingByToken:  map[int64][]*domain.Order{},
		positions:       map[int64]*domain.Position{},
	}
}

// Kind reports this adapter's Port variant.
func (a *Adapter) Kind() broker.Kind { return broker.KindPaper }

// Connect always succeeds for the paper adapter; no credential is validated.
func (a *Adapter) Connect(ctx context.Context, _ domain.Credential) (broker.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return broker.ConnectResult{Kind: broker.KindPaper, Broker: "paper", ConnectedAt: time.Now()}, nil
}

// Disconnect tears down the simulated session.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// IsConnected is cheap and non-blocking.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// AccountSnapshot derives equity from starting balance plus realized and
// unrealized P&L across open positions.
func (a *Adapter) AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return domain.AccountSnapshot{}, brokererr.ErrNotConnected
	}

	var unrealized float64
	for _, pos := range a.positions {
		unrealized += pos.UnrealizedPL
	}

	equity := a.startingBalance + a.realizedPnLToday + unrealized
	return domain.AccountSnapshot{
		Equity:           equity,
		CashAvailable:    equity,
		MarginAvailable:  equity,
		RealizedPnLToday: a.realizedPnLToday,
		UnrealizedPnL:    unrealized,
		Currency:         "INR",
		AsOf:             time.Now(),
	}, nil
}

// Quote synthesizes a price for instrument: the simulator's own internal
// walk if one has already been generated this run, otherwise a fresh seed
// derived from (instrument_token, epoch_second).
func (a *Adapter) Quote(ctx context.Context, instrument domain.Instrument) (domain.Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return domain.Quote{}, brokererr.ErrNotConnected
	}
	q := a.nextQuoteLocked(instrument.InstrumentToken)
	a.matchPendingLocked(instrument.InstrumentToken, q)
	return q, nil
}

func (a *Adapter) nextQuoteLocked(token int64) domain.Quote {
	prev, ok := a.lastQuote[token]
	now := time.Now()
	if !ok {
		seed := token*1_000_003 + now.Unix()
		r := rand.New(rand.NewSource(seed))
		last := 100 + r.Float64()*900 // seed a plausible equity price
		q := domain.Quote{InstrumentToken: token, Last: last, Bid: last - 0.05, Ask: last + 0.05, Volume: 1000, Timestamp: now}
		a.lastQuote[token] = q
		return q
	}

	seed := token*1_000_003 + now.Unix()
	r := rand.New(rand.NewSource(seed))
	drift := (r.Float64() - 0.5) * prev.Last * 0.002
	last := math.Max(0.05, prev.Last+drift)
	q := domain.Quote{InstrumentToken: token, Last: last, Bid: last - 0.05, Ask: last + 0.05, Volume: prev.Volume + int64(r.Intn(50)), Timestamp: now}
	a.lastQuote[token] = q
	return q
}

// HistoricalBars synthesizes a deterministic bar series of the requested
// timeframe for [from, to], derived from the same seeded walk as Quote.
func (a *Adapter) HistoricalBars(ctx context.Context, instrument domain.Instrument, timeframe domain.Timeframe, from, to time.Time) ([]domain.Bar, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, brokererr.ErrNotConnected
	}

	step := timeframe.Duration()
	if step <= 0 {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", brokererr.ErrValidation, timeframe)
	}

	r := rand.New(rand.NewSource(instrument.InstrumentToken))
	price := 100 + r.Float64()*900

	var bars []domain.Bar
	for ts := from; ts.Before(to); ts = ts.Add(step) {
		open := price
		drift := (r.Float64() - 0.5) * open * 0.004
		close := math.Max(0.05, open+drift)
		high := math.Max(open, close) + r.Float64()*open*0.001
		low := math.Min(open, close) - r.Float64()*open*0.001
		bars = append(bars, domain.Bar{
			Open: open, High: high, Low: low, Close: close,
			Volume: 1000 + int64(r.Intn(500)), Timestamp: ts,
			Final: ts.Add(step).After(to),
		})
		price = close
	}
	return bars, nil
}

// PlaceOrder matches market orders immediately; limit and stop orders queue
// for matching on subsequent quote ticks, with price-time priority.
func (a *Adapter) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return "", brokererr.ErrNotConnected
	}

	id := uuid.NewString()
	now := time.Now()
	order := &domain.Order{BrokerOrderID: id, Intent: intent, Status: domain.OrderPending, CreatedAt: now, UpdatedAt: now}
	a.orders[id] = order

	token := intent.Instrument.InstrumentToken
	quote, haveQuote := a.lastQuote[token]

	if intent.OrderType == domain.OrderTypeMarket {
		if !haveQuote {
			quote = a.nextQuoteLocked(token)
		}
		a.fillLocked(order, quote, quote.Timestamp)
		return id, nil
	}

	order.Status = domain.OrderOpen
	order.UpdatedAt = now
	a.pendingByToken[token] = append(a.pendingByToken[token], order)
	if haveQuote {
		a.matchPendingLocked(token, quote)
	}
	return id, nil
}

func (a *Adapter) matchPendingLocked(token int64, quote domain.Quote) {
	pending := a.pendingByToken[token]
	if len(pending) == 0 {
		return
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	var remaining []*domain.Order
	for _, order := range pending {
		if order.Status.Terminal() {
			continue
		}
		if a.tryMatchLocked(order, quote) {
			continue
		}
		remaining = append(remaining, order)
	}
	a.pendingByToken[token] = remaining
}

func (a *Adapter) tryMatchLocked(order *domain.Order, quote domain.Quote) bool {
	intent := order.Intent
	switch intent.OrderType {
	case domain.OrderTypeLimit:
		touched := (intent.Side == domain.SideBuy && quote.Ask <= intent.Price) ||
			(intent.Side == domain.SideSell && quote.Bid >= intent.Price)
		if touched {
			a.fillLocked(order, quote, quote.Timestamp)
			return true
		}
	case domain.OrderTypeSL, domain.OrderTypeSLM:
		triggered := (intent.Side == domain.SideBuy && quote.Last >= intent.StopLoss) ||
			(intent.Side == domain.SideSell && quote.Last <= intent.StopLoss)
		if !triggered {
			return false
		}
		if intent.OrderType == domain.OrderTypeSLM {
			a.fillLocked(order, quote, quote.Timestamp)
			return true
		}
		touched := (intent.Side == domain.SideBuy && quote.Ask <= intent.Price) ||
			(intent.Side == domain.SideSell && quote.Bid >= intent.Price)
		if touched {
			a.fillLocked(order, quote, quote.Timestamp)
			return true
		}
	}
	return false
}

func (a *Adapter) fillLocked(order *domain.Order, quote domain.Quote, at time.Time) {
	fillPrice := quote.Ask
	if order.Intent.Side == domain.SideSell {
		fillPrice = quote.Bid
	}
	order.Status = domain.OrderComplete
	order.FilledQty = order.Intent.Quantity
	order.AvgFillPrice = fillPrice
	order.UpdatedAt = at

	trade := domain.Trade{
		Instrument: order.Intent.Instrument, Side: order.Intent.Side,
		Quantity: order.Intent.Quantity, Price: fillPrice, Timestamp: at,
		OrderID: order.BrokerOrderID,
	}
	a.trades = append(a.trades, trade)
	a.applyFillLocked(trade)
}

func (a *Adapter) applyFillLocked(trade domain.Trade) {
	token := trade.Instrument.InstrumentToken
	pos, ok := a.positions[token]
	if !ok {
		pos = &domain.Position{Instrument: trade.Instrument}
		a.positions[token] = pos
	}

	signedQty := trade.Quantity
	if trade.Side == domain.SideSell {
		signedQty = -signedQty
	}

	switch {
	case pos.NetQuantity == 0:
		pos.NetQuantity = signedQty
		pos.AvgEntry = trade.Price
	case sameSign(pos.NetQuantity, signedQty):
		totalQty := pos.NetQuantity + signedQty
		pos.AvgEntry = (pos.AvgEntry*float64(abs(pos.NetQuantity)) + trade.Price*float64(abs(signedQty))) / float64(abs(totalQty))
		pos.NetQuantity = totalQty
	default:
		closingQty := minAbs(pos.NetQuantity, signedQty)
		realized := float64(closingQty) * (trade.Price - pos.AvgEntry)
		if pos.NetQuantity < 0 {
			realized = -realized
		}
		a.realizedPnLToday += realized
		pos.RealizedPL += realized
		pos.NetQuantity += signedQty
		if pos.NetQuantity != 0 && abs(signedQty) > abs(closingQty) {
			pos.AvgEntry = trade.Price
		}
	}

	if pos.NetQuantity == 0 {
		pos.AvgEntry = 0
	}
	pos.UnrealizedPL = unrealizedFor(*pos, trade.Price)
}

func unrealizedFor(pos domain.Position, lastPrice float64) float64 {
	if pos.NetQuantity == 0 {
		return 0
	}
	return float64(pos.NetQuantity) * (lastPrice - pos.AvgEntry)
}

func sameSign(a, b int64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }
func abs(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
func minAbs(a, b int64) int64 {
	if abs(a) < abs(b) {
		return abs(a)
	}
	return abs(b)
}

// ModifyOrder updates a pending/open paper order's price or stop in place.
func (a *Adapter) ModifyOrder(ctx context.Context, id string, changes broker.OrderChanges) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[id]
	if !ok {
		return brokererr.ErrNotFound
	}
	if order.Status.Terminal() {
		return brokererr.ErrAlreadyTerminal
	}
	if changes.Quantity != nil {
		order.Intent.Quantity = *changes.Quantity
	}
	if changes.Price != nil {
		order.Intent.Price = *changes.Price
	}
	if changes.StopLoss != nil {
		order.Intent.StopLoss = *changes.StopLoss
	}
	order.UpdatedAt = time.Now()
	return nil
}

// CancelOrder cancels a pending/open paper order; cancelling a terminal
// order is a no-op error per the Port's idempotence contract.
func (a *Adapter) CancelOrder(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[id]
	if !ok {
		return brokererr.ErrNotFound
	}
	if order.Status.Terminal() {
		return brokererr.ErrAlreadyTerminal
	}
	order.Status = domain.OrderCancelled
	order.UpdatedAt = time.Now()

	pending := a.pendingByToken[order.Intent.Instrument.InstrumentToken]
	filtered := pending[:0]
	for _, o := range pending {
		if o.BrokerOrderID != id {
			filtered = append(filtered, o)
		}
	}
	a.pendingByToken[order.Intent.Instrument.InstrumentToken] = filtered
	return nil
}

// Positions returns a snapshot of every instrument this session has traded,
// including positions that have since gone flat (NetQuantity == 0).
func (a *Adapter) Positions(ctx context.Context) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Position
	for _, p := range a.positions {
		out = append(out, *p)
	}
	return out, nil
}

// Orders returns a snapshot of every order placed this session.
func (a *Adapter) Orders(ctx context.Context) ([]domain.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Trades returns fills since the given time, or all fills if since is nil.
func (a *Adapter) Trades(ctx context.Context, since *time.Time) ([]domain.Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if since == nil {
		out := make([]domain.Trade, len(a.trades))
		copy(out, a.trades)
		return out, nil
	}
	var out []domain.Trade
	for _, t := range a.trades {
		if t.Timestamp.After(*since) {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ broker.Port = (*Adapter)(nil)
