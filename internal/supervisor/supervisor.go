// Package supervisor owns the trading loop: it fans out over configured
// instruments, drives the indicator pipeline and strategy evaluators against
// the current broker Port, funnels accepted Decisions through risk sizing
// back into the Port, and reconciles the local model of positions and
// orders. It is the single logical worker that owns all derived trading
// state; everything else observes it through Snapshot.
//
// Lifecycle and concurrency follow the engine pattern of a long-running
// goroutine driven by a command channel rather than direct method calls on
// shared state, so HTTP handlers can submit Start/Stop/Snapshot and await a
// typed reply without taking a lock the loop also holds.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/activity"
	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/broker"
	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/indicators"
	"github.com/kiteflow/trader/internal/ledger"
)

// State is the Supervisor's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// HandshakeTimeout bounds how long a caller waits for Start/Stop/Restart to
// take effect before giving up, per the control plane's 5s handshake budget.
const HandshakeTimeout = 5 * time.Second

// commandQueueDepth is the bounded queue size for control commands; the
// control plane never needs more than a handful in flight.
const commandQueueDepth = 8

// Status is a read-only view of the Supervisor's current lifecycle.
type Status struct {
	State        State     `json:"state"`
	Broker       string    `json:"broker"`
	Strategy     string    `json:"strategy"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	PausedReason string    `json:"paused_reason,omitempty"`
	LastTickAt   time.Time `json:"last_tick_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Snapshot is a copy-on-read view of the in-memory trading model; the HTTP
// layer never touches the live maps the loop mutates.
type Snapshot struct {
	Status    Status                `json:"status"`
	Positions []domain.Position     `json:"positions"`
	Orders    []domain.Order        `json:"orders"`
	Account   domain.AccountSnapshot `json:"account"`
}

type command interface{ isCommand() }

type cmdStart struct {
	cfg   botconfig.Config
	reply chan error
}
type cmdStop struct{ reply chan error }
type cmdSnapshot struct{ reply chan Snapshot }
type cmdClosePosition struct {
	key   string // instrument.Key()
	reply chan error
}

func (cmdStart) isCommand()         {}
func (cmdStop) isCommand()          {}
func (cmdSnapshot) isCommand()      {}
func (cmdClosePosition) isCommand() {}

// instrumentState is the Supervisor-owned per-instrument working set.
type instrumentState struct {
	instrument domain.Instrument
	bars       []domain.Bar
}

// Supervisor owns the trading loop. Construct with New, then run it on a
// dedicated goroutine with Run; submit commands with Start/Stop/Snapshot.
type Supervisor struct {
	cat     *catalog.Catalog
	acts    *activity.Log
	ledger  *ledger.Repository
	log     zerolog.Logger
	riskMax float64 // MaxNotionalPercent, 0 disables

	currentBroker broker.Port
	brokerMu      sync.RWMutex

	commands chan command
	stopCh   chan struct{}
	done     chan struct{}

	// fields below are only ever touched from the Run goroutine.
	state         State
	cfg           botconfig.Config
	instruments   map[string]*instrumentState
	positions     map[string]domain.Position
	orders        map[string]domain.Order
	brackets      map[string]positionBracket
	account       domain.AccountSnapshot
	startedAt     time.Time
	equityAtOpen  float64
	openDay       time.Time
	pausedReason  string
	lastTickAt    time.Time
	lastErr       string
}

// positionBracket is the stop-loss/take-profit pair recorded off a filled
// entry order's OrderIntent, kept around so the tick loop can enforce the
// exit itself when the broker did not attach a real bracket order (neither
// adapter does today — see tick.go's enforceBrackets).
type positionBracket struct {
	Instrument domain.Instrument
	StopLoss   float64
	TakeProfit float64
}

// New constructs a stopped Supervisor. cur is the broker Port in effect at
// startup; SetBroker swaps it (e.g. after /broker/connect).
func New(cur broker.Port, cat *catalog.Catalog, acts *activity.Log, led *ledger.Repository, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cat:           cat,
		acts:          acts,
		ledger:        led,
		log:           log.With().Str("component", "supervisor").Logger(),
		currentBroker: cur,
		commands:      make(chan command, commandQueueDepth),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		state:         StateStopped,
		instruments:   make(map[string]*instrumentState),
		positions:     make(map[string]domain.Position),
		orders:        make(map[string]domain.Order),
		brackets:      make(map[string]positionBracket),
	}
}

// SetBroker swaps the broker Port the loop drives. Safe to call at any time;
// takes effect on the next tick.
func (s *Supervisor) SetBroker(p broker.Port) {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()
	s.currentBroker = p
}

func (s *Supervisor) broker() broker.Port {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	return s.currentBroker
}

// Run is the Supervisor's single logical worker. It blocks until ctx is
// cancelled or Shutdown is called, processing commands and, while running,
// advancing one tick per poll_interval. Call it on its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		case <-ticker.C:
			if s.state == StateRunning || s.state == StatePaused {
				s.maybeTick(ctx)
			}
		}
	}
}

// Shutdown stops the Run goroutine and waits for it to exit.
func (s *Supervisor) Shutdown() {
	close(s.stopCh)
	<-s.done
}

func (s *Supervisor) handleCommand(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case cmdStart:
		c.reply <- s.doStart(ctx, c.cfg)
	case cmdStop:
		c.reply <- s.doStop(ctx)
	case cmdSnapshot:
		c.reply <- s.buildSnapshot(ctx)
	case cmdClosePosition:
		c.reply <- s.doClosePosition(ctx, c.key)
	}
}

// Start validates cfg, confirms the broker is connected, seeds bar buffers
// from history, and transitions the loop to running. Calling Start on an
// already-running Supervisor is a no-op that returns nil (the chosen,
// documented resolution of the source's ambiguity over 200 vs 409 — see
// DESIGN.md).
func (s *Supervisor) Start(ctx context.Context, cfg botconfig.Config) error {
	return s.submit(func(reply chan error) command { return cmdStart{cfg: cfg, reply: reply} })
}

// Stop transitions the loop to stopped. Idempotent: stopping an
// already-stopped Supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.submit(func(reply chan error) command { return cmdStop{reply: reply} })
}

// Restart stops then starts with cfg.
func (s *Supervisor) Restart(ctx context.Context, cfg botconfig.Config) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx, cfg)
}

// Snapshot returns a copy-on-read view of the current trading model.
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.commands <- cmdSnapshot{reply: reply}:
	case <-time.After(HandshakeTimeout):
		return Snapshot{}, fmt.Errorf("%w: supervisor busy", brokererr.ErrInternal)
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-time.After(HandshakeTimeout):
		return Snapshot{}, fmt.Errorf("%w: supervisor busy", brokererr.ErrInternal)
	}
}

// ClosePosition requests the position in the instrument named by
// (exchange, tradingSymbol) be flattened with a market order.
func (s *Supervisor) ClosePosition(ctx context.Context, exchange, tradingSymbol string) error {
	key := exchange + ":" + tradingSymbol
	return s.submit(func(reply chan error) command { return cmdClosePosition{key: key, reply: reply} })
}

func (s *Supervisor) submit(build func(chan error) command) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- build(reply):
	case <-time.After(HandshakeTimeout):
		return fmt.Errorf("%w: supervisor busy", brokererr.ErrInternal)
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(HandshakeTimeout):
		return fmt.Errorf("%w: supervisor busy", brokererr.ErrInternal)
	}
}

func (s *Supervisor) doStart(ctx context.Context, cfg botconfig.Config) error {
	if s.state == StateRunning || s.state == StatePaused {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	br := s.broker()
	if br == nil || !br.IsConnected() {
		return fmt.Errorf("%w: broker not connected", brokererr.ErrStateConflict)
	}

	s.state = StateStarting
	s.cfg = cfg
	s.instruments = make(map[string]*instrumentState)
	s.brackets = make(map[string]positionBracket)

	params := indicators.ParamsFromOverrides(cfg.IndicatorParams)
	warmup := indicators.WarmupBars(params)
	tf := domain.Timeframe(cfg.Timeframe)
	now := time.Now()
	from := now.Add(-time.Duration(warmup+10) * tf.Duration())

	for _, ref := range cfg.Instruments {
		inst, err := s.cat.ByKey(ref.Exchange, ref.TradingSymbol)
		if err != nil {
			s.state = StateStopped
			return fmt.Errorf("supervisor: unknown instrument %s:%s: %w", ref.Exchange, ref.TradingSymbol, err)
		}
		bars, err := br.HistoricalBars(ctx, inst, tf, from, now)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", inst.TradingSymbol).Msg("warmup history fetch failed, starting with an empty buffer")
			bars = nil
		}
		s.instruments[inst.Key()] = &instrumentState{instrument: inst, bars: bars}
	}

	account, err := br.AccountSnapshot(ctx)
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("supervisor: account snapshot: %w", err)
	}
	s.account = account
	s.equityAtOpen = account.Equity
	s.openDay = now.Truncate(24 * time.Hour)
	s.startedAt = now
	s.pausedReason = ""
	s.lastErr = ""
	s.state = StateRunning

	s.acts.Record(domain.Activity{
		Kind: domain.ActivityAnalysis, Level: domain.LevelSuccess,
		Message: fmt.Sprintf("bot started: strategy=%s timeframe=%s instruments=%d", cfg.Strategy, cfg.Timeframe, len(s.instruments)),
	})
	return nil
}

// doStop halts the loop but leaves the broker session connected: per spec
// a disconnect is what the 30s hard-timeout escalates to when cancellation
// leaves an in-flight adapter call stuck, not the normal outcome of every
// Stop. The Supervisor has no in-flight adapter call to wait out here (it
// runs on the same goroutine handling this command), so there is nothing to
// escalate past and no disconnect to issue. Leaving the broker connected
// means Restart (Stop then Start) does not have to re-authenticate.
func (s *Supervisor) doStop(ctx context.Context) error {
	if s.state == StateStopped {
		return nil
	}
	s.state = StateStopping
	s.state = StateStopped
	s.acts.Record(domain.Activity{Kind: domain.ActivityAnalysis, Level: domain.LevelInfo, Message: "bot stopped"})
	return nil
}

func (s *Supervisor) doClosePosition(ctx context.Context, key string) error {
	pos, ok := s.positions[key]
	if !ok || pos.NetQuantity == 0 {
		return fmt.Errorf("%w: no open position for %s", brokererr.ErrNotFound, key)
	}
	side := domain.SideSell
	if pos.NetQuantity < 0 {
		side = domain.SideBuy
	}
	intent := domain.OrderIntent{
		Instrument: pos.Instrument,
		Side:       side,
		Quantity:   abs64(pos.NetQuantity),
		OrderType:  domain.OrderTypeMarket,
		Product:    domain.ProductMIS,
		Validity:   domain.ValidityDay,
	}
	br := s.broker()
	id, err := br.PlaceOrder(ctx, intent)
	if err != nil {
		return err
	}
	s.acts.Record(domain.Activity{
		Kind: domain.ActivityOrder, Level: domain.LevelInfo, Symbol: pos.Instrument.TradingSymbol,
		Message: "close position requested", Payload: map[string]interface{}{"broker_order_id": id},
	})
	return nil
}

func (s *Supervisor) buildSnapshot(ctx context.Context) Snapshot {
	status := Status{
		State: s.state, Strategy: s.cfg.Strategy, StartedAt: s.startedAt,
		PausedReason: s.pausedReason, LastTickAt: s.lastTickAt, LastError: s.lastErr,
	}
	if br := s.broker(); br != nil {
		status.Broker = string(br.Kind())
	}

	positions := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}

	return Snapshot{Status: status, Positions: positions, Orders: orders, Account: s.account}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
