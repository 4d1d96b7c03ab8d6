// Package risk converts an accepted Decision into a sized, SL/TP-bracketed
// OrderIntent, or a rejection. It holds no state: every call is a pure
// function of its inputs.
package risk

import (
	"fmt"
	"math"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
)

// Params are the BotConfig-derived sizing inputs.
type Params struct {
	RiskPerTradePercent float64 // e.g. 0.5 means 0.5%
	RewardRatio         float64
	ATRMultiplier       float64
	MaxPositions        int
	MaxNotionalPercent  float64 // cap on a single intent's notional as a percent of equity; 0 disables
}

// Size converts decision into an OrderIntent, given the account, instrument,
// last quote, the instrument's ATR (for a default stop when the decision
// doesn't suggest one), and the count of currently open positions.
//
// Returns brokererr.ErrInsufficientStop, brokererr.ErrInsufficientMargin, or
// brokererr.ErrRiskRejected (max positions) on rejection; callers log these
// as a risk-rejection Activity, never as a user-facing error.
func Size(decision domain.Decision, account domain.AccountSnapshot, instrument domain.Instrument, quote domain.Quote, atr float64, openPositions int, p Params) (domain.OrderIntent, error) {
	if decision.Kind != domain.DecisionBuy && decision.Kind != domain.DecisionSell {
		return domain.OrderIntent{}, fmt.Errorf("%w: risk sizing requires a Buy or Sell decision", brokererr.ErrInternal)
	}

	entry := quote.Ask
	if decision.Kind == domain.DecisionSell {
		entry = quote.Bid
	}

	stopDistance := stopDistanceFor(decision, entry, atr, p.ATRMultiplier)
	if stopDistance <= 0 {
		return domain.OrderIntent{}, brokererr.ErrInsufficientStop
	}

	riskAmount := account.Equity * p.RiskPerTradePercent / 100
	rawQty := riskAmount / stopDistance

	lot := instrument.LotSize
	if lot <= 0 {
		lot = 1
	}
	quantity := (int64(rawQty) / lot) * lot
	if quantity < lot {
		return domain.OrderIntent{}, brokererr.ErrInsufficientStop
	}

	stopLoss, takeProfit := bracketPrices(decision, entry, stopDistance, p.RewardRatio)

	notional := float64(quantity) * entry
	if p.MaxNotionalPercent > 0 {
		maxNotional := account.Equity * p.MaxNotionalPercent / 100
		if notional > maxNotional || notional > account.MarginAvailable {
			return domain.OrderIntent{}, brokererr.ErrInsufficientMargin
		}
	} else if notional > account.MarginAvailable {
		return domain.OrderIntent{}, brokererr.ErrInsufficientMargin
	}

	if p.MaxPositions > 0 && openPositions+1 > p.MaxPositions {
		return domain.OrderIntent{}, brokererr.ErrRiskRejected
	}

	side := domain.SideBuy
	if decision.Kind == domain.DecisionSell {
		side = domain.SideSell
	}

	return domain.OrderIntent{
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
		OrderType:  domain.OrderTypeMarket,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Product:    domain.ProductMIS,
		Validity:   domain.ValidityDay,
	}, nil
}

func stopDistanceFor(decision domain.Decision, entry, atr, atrMultiplier float64) float64 {
	if decision.SuggestedStop != nil {
		return math.Abs(entry - *decision.SuggestedStop)
	}
	if atr <= 0 {
		return 0
	}
	return atr * atrMultiplier
}

func bracketPrices(decision domain.Decision, entry, stopDistance, rewardRatio float64) (stopLoss, takeProfit float64) {
	targetDistance := stopDistance * rewardRatio
	if decision.SuggestedTarget != nil {
		targetDistance = math.Abs(*decision.SuggestedTarget - entry)
	}
	if decision.Kind == domain.DecisionBuy {
		return entry - stopDistance, entry + targetDistance
	}
	return entry + stopDistance, entry - targetDistance
}
