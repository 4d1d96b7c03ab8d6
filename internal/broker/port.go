// Package broker defines the capability set every adapter implements and
// the tagged variant used where code must branch on adapter identity (OAuth
// paths that only exist for live brokers). It does not implement an adapter
// itself; see the live and paper subpackages.
package broker

import (
	"context"
	"time"

	"github.com/kiteflow/trader/internal/domain"
)

// Kind tags which concrete variant an adapter is. Internal code branches on
// Kind rather than on a type assertion, since both variants implement the
// same Port.
type Kind string

const (
	KindLive  Kind = "live"
	KindPaper Kind = "paper"
)

// ConnectResult is returned by Connect on success.
type ConnectResult struct {
	Kind        Kind
	Broker      string
	ConnectedAt time.Time
}

// OrderChanges is a partial update applied by ModifyOrder; nil fields are
// left unchanged.
type OrderChanges struct {
	Quantity *int64
	Price    *float64
	StopLoss *float64
}

// Port is the single capability set every broker implementation exposes.
// Implementations: internal/broker/live (OAuth vendor) and
// internal/broker/paper (deterministic simulator).
type Port interface {
	// Connect establishes an authenticated session. Idempotent: calling on
	// an already-connected adapter returns the existing session.
	Connect(ctx context.Context, cred domain.Credential) (ConnectResult, error)

	// Disconnect tears down the session. Safe to call after a failed Connect.
	Disconnect(ctx context.Context) error

	// IsConnected is cheap and non-blocking.
	IsConnected() bool

	// AccountSnapshot may perform a bounded remote call.
	AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error)

	// Quote returns a fresh quote or brokererr.ErrStale if the result is
	// older than one polling interval.
	Quote(ctx context.Context, instrument domain.Instrument) (domain.Quote, error)

	// HistoricalBars returns bars in ascending time order. The final bar may
	// be partial (flagged via Bar.Final) if `to` falls in the current
	// unclosed interval.
	HistoricalBars(ctx context.Context, instrument domain.Instrument, timeframe domain.Timeframe, from, to time.Time) ([]domain.Bar, error)

	// PlaceOrder is a synchronous acknowledgement, not a fill confirmation.
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (brokerOrderID string, err error)

	// ModifyOrder and CancelOrder are idempotent on terminal orders:
	// operating on one returns brokererr.ErrAlreadyTerminal, not an error.
	ModifyOrder(ctx context.Context, id string, changes OrderChanges) error
	CancelOrder(ctx context.Context, id string) error

	Positions(ctx context.Context) ([]domain.Position, error)
	Orders(ctx context.Context) ([]domain.Order, error)
	Trades(ctx context.Context, since *time.Time) ([]domain.Trade, error)

	// Kind reports which variant this Port implementation is.
	Kind() Kind
}
