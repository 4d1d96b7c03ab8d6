// Package strategy holds the pluggable signal generators. Each evaluator is
// a pure function of (IndicatorSet, recent bars, config) -> Decision; none
// hold state between ticks.
package strategy

import (
	"fmt"

	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/indicators"
)

// Name identifies a registered strategy.
type Name string

const (
	TrendFollow Name = "trend_follow"
	MeanRevert  Name = "mean_revert"
	Momentum    Name = "momentum"
	Scalping    Name = "scalping"
)

// Valid reports whether name is one of the required strategies.
func Valid(name string) bool {
	switch Name(name) {
	case TrendFollow, MeanRevert, Momentum, Scalping:
		return true
	}
	return false
}

// Config carries the thresholds each evaluator reads. Evaluators use every
// field as given; a zero field is not replaced by DefaultConfig's value.
type Config struct {
	ADXThreshold       float64
	RangingADXMax      float64
	RSIOversold        float64
	RSIOverbought      float64
	MinVolumeRatio     float64
}

// DefaultConfig returns the thresholds used when BotConfig does not override them.
func DefaultConfig() Config {
	return Config{
		ADXThreshold:   25,
		RangingADXMax:  20,
		RSIOversold:    30,
		RSIOverbought:  70,
		MinVolumeRatio: 1.2,
	}
}

// Evaluator is the function shape every strategy implements.
type Evaluator func(set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision

// Registry maps a strategy Name to its Evaluator.
var Registry = map[Name]Evaluator{
	TrendFollow: EvalTrendFollow,
	MeanRevert:  EvalMeanRevert,
	Momentum:    EvalMomentum,
	Scalping:    EvalScalping,
}

// Evaluate runs the named strategy, returning a Hold decision if name is unknown.
func Evaluate(name Name, set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision {
	eval, ok := Registry[name]
	if !ok {
		return domain.Hold(fmt.Sprintf("unknown strategy %q", name))
	}
	if len(bars) == 0 {
		return domain.Hold("no bars")
	}
	return eval(set, bars, cfg)
}

func ptr(v float64) *float64 { return &v }

// EvalTrendFollow buys while the fast EMA is above the slow EMA with trend
// confirmation from ADX and price above the slow EMA; symmetric sell. It
// compares the current EMA values only and does not check whether the
// crossover happened on this bar.
func EvalTrendFollow(set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision {
	if !set.FastEMA.Defined || !set.SlowEMA.Defined || !set.ADX.Defined {
		return domain.Hold("indicators undefined")
	}
	close := bars[len(bars)-1].Close
	trending := set.ADX.ADX >= cfg.ADXThreshold

	if set.FastEMA.Value > set.SlowEMA.Value && trending && close > set.SlowEMA.Value {
		return domain.Decision{
			Kind: domain.DecisionBuy, Confidence: confidenceFromADX(set.ADX.ADX, cfg.ADXThreshold),
			Reason: "fast EMA above slow EMA with ADX trend confirmation",
		}
	}
	if set.FastEMA.Value < set.SlowEMA.Value && trending && close < set.SlowEMA.Value {
		return domain.Decision{
			Kind: domain.DecisionSell, Confidence: confidenceFromADX(set.ADX.ADX, cfg.ADXThreshold),
			Reason: "fast EMA below slow EMA with ADX trend confirmation",
		}
	}
	return domain.Hold("no trend-follow signal")
}

// EvalMeanRevert buys when price touches the lower Bollinger band while RSI
// is oversold and ADX confirms a ranging market; symmetric sell at the
// upper band / overbought RSI.
func EvalMeanRevert(set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision {
	if !set.Bollinger.Defined || !set.RSI.Defined || !set.ADX.Defined {
		return domain.Hold("indicators undefined")
	}
	close := bars[len(bars)-1].Close
	ranging := set.ADX.ADX < cfg.RangingADXMax

	if close <= set.Bollinger.Lower && set.RSI.Value < cfg.RSIOversold && ranging {
		return domain.Decision{
			Kind: domain.DecisionBuy, Confidence: confidenceFromRSI(set.RSI.Value, cfg.RSIOversold, true),
			Reason:        "price at lower Bollinger band with oversold RSI in a ranging market",
			SuggestedStop: nil,
			SuggestedTarget: ptr(set.Bollinger.Mid),
		}
	}
	if close >= set.Bollinger.Upper && set.RSI.Value > cfg.RSIOverbought && ranging {
		return domain.Decision{
			Kind: domain.DecisionSell, Confidence: confidenceFromRSI(set.RSI.Value, cfg.RSIOverbought, false),
			Reason:          "price at upper Bollinger band with overbought RSI in a ranging market",
			SuggestedTarget: ptr(set.Bollinger.Mid),
		}
	}
	return domain.Hold("no mean-revert signal")
}

// EvalMomentum buys on a positive MACD histogram with RSI above 50 but below
// overbought; symmetric sell on a negative histogram with RSI below 50 but
// above oversold.
func EvalMomentum(set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision {
	if !set.MACD.Defined || !set.RSI.Defined {
		return domain.Hold("indicators undefined")
	}
	if set.MACD.Histogram > 0 && set.RSI.Value > 50 && set.RSI.Value < cfg.RSIOverbought {
		return domain.Decision{
			Kind: domain.DecisionBuy, Confidence: confidenceFromRSI(set.RSI.Value, 50, true),
			Reason: "positive MACD histogram with supportive RSI",
		}
	}
	if set.MACD.Histogram < 0 && set.RSI.Value < 50 && set.RSI.Value > cfg.RSIOversold {
		return domain.Decision{
			Kind: domain.DecisionSell, Confidence: confidenceFromRSI(set.RSI.Value, 50, false),
			Reason: "negative MACD histogram with supportive RSI",
		}
	}
	return domain.Hold("no momentum signal")
}

// EvalScalping is trend-follow at the caller's shorter lookback (the caller
// is responsible for seeding a shorter bar window and a lower ADX
// threshold via cfg) plus a minimum volume-ratio gate.
func EvalScalping(set indicators.Set, bars []domain.Bar, cfg Config) domain.Decision {
	if !set.VolumeRatio.Defined || set.VolumeRatio.Ratio < cfg.MinVolumeRatio {
		return domain.Hold("insufficient volume for scalping")
	}
	return EvalTrendFollow(set, bars, cfg)
}

func confidenceFromADX(adx, threshold float64) float64 {
	if threshold <= 0 {
		return 0.5
	}
	c := adx / (threshold * 2)
	return clamp01(c)
}

func confidenceFromRSI(rsi, pivot float64, buy bool) float64 {
	var dist float64
	if buy {
		dist = (pivot - rsi) / pivot
	} else {
		dist = (rsi - pivot) / (100 - pivot)
	}
	return clamp01(0.5 + dist)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
