package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/indicators"
	"github.com/kiteflow/trader/internal/risk"
	"github.com/kiteflow/trader/internal/strategy"
)

// maybeTick runs a tick if enough of poll_interval has elapsed, and rolls
// the daily P&L gate over at midnight UTC (the day boundary is
// time.Truncate(24h)). Ordering within one instrument
// (bar poll, indicators, decision, order submission, reconciliation) happens
// on this single goroutine; across instruments the order is unspecified.
func (s *Supervisor) maybeTick(ctx context.Context) {
	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if !s.lastTickAt.IsZero() && time.Since(s.lastTickAt) < interval {
		return
	}
	s.lastTickAt = time.Now()

	today := s.lastTickAt.Truncate(24 * time.Hour)
	if s.state == StatePaused && today.After(s.openDay) {
		s.log.Info().Msg("trading day rolled over, resuming from daily-loss pause")
		s.state = StateRunning
		s.pausedReason = ""
		s.equityAtOpen = s.account.Equity
		s.openDay = today
	}

	br := s.broker()
	if br == nil {
		return
	}

	s.reconcile(ctx, br)
	s.enforceBrackets(ctx, br)

	withinHours := s.withinTradingHours(s.lastTickAt)
	params := indicators.ParamsFromOverrides(s.cfg.IndicatorParams)
	stratCfg := strategy.DefaultConfig()

	for key, inst := range s.instruments {
		s.tickInstrument(ctx, br, key, inst, params, stratCfg, withinHours)
	}

	if s.state == StateRunning {
		s.checkDailyLossGate()
	}
}

func (s *Supervisor) withinTradingHours(at time.Time) bool {
	start, okS := parseClock(s.cfg.TradingHours.Start)
	end, okE := parseClock(s.cfg.TradingHours.End)
	if !okS || !okE {
		return true
	}
	clock := at.Hour()*60 + at.Minute()
	return clock >= start && clock <= end
}

func parseClock(hhmm string) (minutesOfDay int, ok bool) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%2d:%2d", &h, &m); err != nil {
		return 0, false
	}
	return h*60 + m, true
}

func (s *Supervisor) tickInstrument(ctx context.Context, br interface {
	HistoricalBars(context.Context, domain.Instrument, domain.Timeframe, time.Time, time.Time) ([]domain.Bar, error)
	Quote(context.Context, domain.Instrument) (domain.Quote, error)
	PlaceOrder(context.Context, domain.OrderIntent) (string, error)
}, key string, inst *instrumentState, params indicators.Params, stratCfg strategy.Config, withinHours bool) {
	tf := domain.Timeframe(s.cfg.Timeframe)
	now := time.Now()
	from := now.Add(-tf.Duration())
	if len(inst.bars) > 0 {
		from = inst.bars[len(inst.bars)-1].Timestamp
	}

	newBars, err := br.HistoricalBars(ctx, inst.instrument, tf, from, now)
	if err != nil {
		s.recordTickError(inst.instrument, err)
		return
	}
	inst.bars = appendBars(inst.bars, newBars)

	set := indicators.Compute(inst.bars, params)
	decision := strategy.Evaluate(strategy.Name(s.cfg.Strategy), set, inst.bars, stratCfg)

	s.acts.Record(domain.Activity{
		Kind: domain.ActivityAnalysis, Level: domain.LevelInfo, Symbol: inst.instrument.TradingSymbol,
		Message: fmt.Sprintf("%s: %s", decision.Kind, decision.Reason),
	})

	if decision.Kind == domain.DecisionHold || !withinHours || s.state != StateRunning {
		return
	}

	s.acts.Record(domain.Activity{
		Kind: domain.ActivitySignal, Level: domain.LevelInfo, Symbol: inst.instrument.TradingSymbol,
		Message: fmt.Sprintf("%s signal, confidence %.2f: %s", decision.Kind, decision.Confidence, decision.Reason),
	})

	quote, err := br.Quote(ctx, inst.instrument)
	if err != nil {
		s.recordTickError(inst.instrument, err)
		return
	}

	intent, err := risk.Size(decision, s.account, inst.instrument, quote, set.ATR.Value, s.openPositionsCount(), risk.Params{
		RiskPerTradePercent: s.cfg.RiskPerTradePercent,
		RewardRatio:         s.cfg.RewardRatio,
		ATRMultiplier:       s.cfg.ATRMultiplier,
		MaxPositions:        s.cfg.MaxPositions,
		MaxNotionalPercent:  s.riskMax,
	})
	if err != nil {
		s.recordRiskRejection(inst.instrument, err)
		return
	}

	orderID, err := br.PlaceOrder(ctx, intent)
	if err != nil {
		s.recordTickError(inst.instrument, err)
		return
	}

	s.orders[orderID] = domain.Order{
		BrokerOrderID: orderID, Intent: intent, Status: domain.OrderPending,
		CreatedAt: now, UpdatedAt: now,
	}
	s.acts.Record(domain.Activity{
		Kind: domain.ActivityOrder, Level: domain.LevelSuccess, Symbol: inst.instrument.TradingSymbol,
		Message: fmt.Sprintf("submitted %s %d @ %s", intent.Side, intent.Quantity, intent.OrderType),
		Payload: map[string]interface{}{"broker_order_id": orderID},
	})
}

// openPositionsCount is risk.Size's openPositions argument: the count of
// positions with non-zero net exposure.
func (s *Supervisor) openPositionsCount() int {
	n := 0
	for _, p := range s.positions {
		if p.NetQuantity != 0 {
			n++
		}
	}
	return n
}

func (s *Supervisor) recordTickError(inst domain.Instrument, err error) {
	if errors.Is(err, brokererr.ErrRateLimited) {
		s.log.Debug().Str("symbol", inst.TradingSymbol).Msg("rate limited, skipping tick for this instrument")
		return
	}
	s.acts.Record(domain.Activity{
		Kind: domain.ActivityError, Level: domain.LevelError, Symbol: inst.TradingSymbol,
		Message: fmt.Sprintf("tick failed: %v", err),
	})
}

func (s *Supervisor) recordRiskRejection(inst domain.Instrument, err error) {
	s.acts.Record(domain.Activity{
		Kind: domain.ActivityWarning, Level: domain.LevelWarning, Symbol: inst.TradingSymbol,
		Message: fmt.Sprintf("risk rejection: %v", err),
	})
}

// reconcile polls broker positions/orders/trades, updates the local model,
// and records Activities on observed transitions.
func (s *Supervisor) reconcile(ctx context.Context, br interface {
	Positions(context.Context) ([]domain.Position, error)
	Orders(context.Context) ([]domain.Order, error)
	AccountSnapshot(context.Context) (domain.AccountSnapshot, error)
}) {
	if positions, err := br.Positions(ctx); err == nil {
		next := make(map[string]domain.Position, len(positions))
		for _, p := range positions {
			next[p.Instrument.Key()] = p
		}
		s.positions = next
	}

	if orders, err := br.Orders(ctx); err == nil {
		for _, o := range orders {
			prev, existed := s.orders[o.BrokerOrderID]
			s.orders[o.BrokerOrderID] = o
			if !existed || prev.Status != o.Status {
				if s.ledger != nil {
					if err := s.ledger.UpsertOrder(o); err != nil {
						s.log.Warn().Err(err).Msg("ledger upsert failed")
					}
				}
				if existed && prev.Status != o.Status {
					s.acts.Record(domain.Activity{
						Kind: domain.ActivityPosition, Level: domain.LevelInfo, Symbol: o.Intent.Instrument.TradingSymbol,
						Message: fmt.Sprintf("order %s: %s -> %s", o.BrokerOrderID, prev.Status, o.Status),
					})
				}
				if o.Status == domain.OrderComplete && (!existed || prev.Status != o.Status) {
					s.recordBracket(o)
				}
			}
		}
	}

	if account, err := br.AccountSnapshot(ctx); err == nil {
		s.account = account
	}
}

// recordBracket captures a completed entry order's stop-loss/take-profit so
// enforceBrackets can watch for a breach on later ticks. A fresh fill on an
// instrument overwrites any stale bracket the way a new entry supersedes
// the one it closed out.
func (s *Supervisor) recordBracket(o domain.Order) {
	if o.Intent.StopLoss <= 0 && o.Intent.TakeProfit <= 0 {
		return
	}
	s.brackets[o.Intent.Instrument.Key()] = positionBracket{
		Instrument: o.Intent.Instrument,
		StopLoss:   o.Intent.StopLoss,
		TakeProfit: o.Intent.TakeProfit,
	}
}

// enforceBrackets applies per-position stop-loss/take-profit logic on the
// Supervisor's own side, per spec: neither broker attaches a real bracket
// order today, so this is what stands in for one. For each position with a
// recorded bracket it fetches the current quote and, if the last price has
// crossed the stop or the target, submits a market order to flatten the
// position and stops tracking the bracket — a fresh one is recorded the
// next time an entry order for that instrument fills.
func (s *Supervisor) enforceBrackets(ctx context.Context, br interface {
	Quote(context.Context, domain.Instrument) (domain.Quote, error)
	PlaceOrder(context.Context, domain.OrderIntent) (string, error)
}) {
	for key, b := range s.brackets {
		pos, ok := s.positions[key]
		if !ok || pos.NetQuantity == 0 {
			delete(s.brackets, key)
			continue
		}

		quote, err := br.Quote(ctx, b.Instrument)
		if err != nil {
			s.recordTickError(b.Instrument, err)
			continue
		}

		breached, exitSide := bracketBreach(pos, b, quote.Last)
		if !breached {
			continue
		}

		intent := domain.OrderIntent{
			Instrument: b.Instrument,
			Side:       exitSide,
			Quantity:   abs64(pos.NetQuantity),
			OrderType:  domain.OrderTypeMarket,
			Product:    domain.ProductMIS,
			Validity:   domain.ValidityDay,
		}
		orderID, err := br.PlaceOrder(ctx, intent)
		if err != nil {
			s.recordTickError(b.Instrument, err)
			continue
		}

		now := time.Now()
		s.orders[orderID] = domain.Order{
			BrokerOrderID: orderID, Intent: intent, Status: domain.OrderPending,
			CreatedAt: now, UpdatedAt: now,
		}
		delete(s.brackets, key)
		s.acts.Record(domain.Activity{
			Kind: domain.ActivityPosition, Level: domain.LevelWarning, Symbol: b.Instrument.TradingSymbol,
			Message: fmt.Sprintf("bracket exit submitted at %.2f (stop=%.2f target=%.2f)", quote.Last, b.StopLoss, b.TakeProfit),
			Payload: map[string]interface{}{"broker_order_id": orderID},
		})
	}
}

// bracketBreach reports whether last has crossed the stop or target for pos
// and, if so, which side closes it: a long position exits by selling, a
// short position exits by buying.
func bracketBreach(pos domain.Position, b positionBracket, last float64) (bool, domain.Side) {
	if pos.NetQuantity > 0 {
		if b.StopLoss > 0 && last <= b.StopLoss {
			return true, domain.SideSell
		}
		if b.TakeProfit > 0 && last >= b.TakeProfit {
			return true, domain.SideSell
		}
		return false, ""
	}
	if b.StopLoss > 0 && last >= b.StopLoss {
		return true, domain.SideBuy
	}
	if b.TakeProfit > 0 && last <= b.TakeProfit {
		return true, domain.SideBuy
	}
	return false, ""
}

// checkDailyLossGate transitions the loop to paused once today's realized
// plus unrealized P&L breaches -max_daily_loss_percent of the equity
// observed when the day (or the run) started.
func (s *Supervisor) checkDailyLossGate() {
	if s.equityAtOpen <= 0 || s.cfg.MaxDailyLossPercent <= 0 {
		return
	}
	pnlToday := s.account.RealizedPnLToday + s.account.UnrealizedPnL
	threshold := -s.cfg.MaxDailyLossPercent / 100 * s.equityAtOpen
	if pnlToday <= threshold {
		s.state = StatePaused
		s.pausedReason = "daily loss limit reached"
		s.acts.Record(domain.Activity{
			Kind: domain.ActivityWarning, Level: domain.LevelWarning,
			Message: fmt.Sprintf("daily loss limit reached (%.2f <= %.2f), trading paused until resume or day rollover", pnlToday, threshold),
		})
	}
}

func appendBars(existing, fresh []domain.Bar) []domain.Bar {
	if len(fresh) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return fresh
	}
	lastTS := existing[len(existing)-1].Timestamp
	out := existing
	for _, b := range fresh {
		if !b.Timestamp.After(lastTS) {
			continue
		}
		out = append(out, b)
	}
	const maxBars = 1000
	if len(out) > maxBars {
		out = out[len(out)-maxBars:]
	}
	return out
}
