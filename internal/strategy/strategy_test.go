package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/indicators"
)

func oneBar(close float64) []domain.Bar {
	return []domain.Bar{{Close: close, Timestamp: time.Now()}}
}

func TestEvalTrendFollowBuy(t *testing.T) {
	set := indicators.Set{
		FastEMA: indicators.Value{Defined: true, Value: 110},
		SlowEMA: indicators.Value{Defined: true, Value: 100},
		ADX:     indicators.DirectionalMovement{Defined: true, ADX: 30},
	}
	d := EvalTrendFollow(set, oneBar(111), DefaultConfig())
	assert.Equal(t, domain.DecisionBuy, d.Kind)
}

func TestEvalTrendFollowHoldOnUndefinedIndicators(t *testing.T) {
	d := EvalTrendFollow(indicators.Set{}, oneBar(100), DefaultConfig())
	assert.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvalMeanRevertBuyAtLowerBand(t *testing.T) {
	set := indicators.Set{
		Bollinger: indicators.Bollinger{Defined: true, Upper: 120, Mid: 100, Lower: 80},
		RSI:       indicators.Value{Defined: true, Value: 25},
		ADX:       indicators.DirectionalMovement{Defined: true, ADX: 10},
	}
	d := EvalMeanRevert(set, oneBar(79), DefaultConfig())
	assert.Equal(t, domain.DecisionBuy, d.Kind)
	assert.NotNil(t, d.SuggestedTarget)
}

func TestEvalMeanRevertHoldWhenTrending(t *testing.T) {
	set := indicators.Set{
		Bollinger: indicators.Bollinger{Defined: true, Upper: 120, Mid: 100, Lower: 80},
		RSI:       indicators.Value{Defined: true, Value: 25},
		ADX:       indicators.DirectionalMovement{Defined: true, ADX: 35}, // too strong a trend to be "ranging"
	}
	d := EvalMeanRevert(set, oneBar(79), DefaultConfig())
	assert.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvalMomentumBuyOnPositiveHistogram(t *testing.T) {
	set := indicators.Set{
		MACD: indicators.MACD{Defined: true, Histogram: 1.5},
		RSI:  indicators.Value{Defined: true, Value: 60},
	}
	d := EvalMomentum(set, oneBar(100), DefaultConfig())
	assert.Equal(t, domain.DecisionBuy, d.Kind)
}

func TestEvalScalpingRequiresVolumeGate(t *testing.T) {
	set := indicators.Set{
		FastEMA:     indicators.Value{Defined: true, Value: 110},
		SlowEMA:     indicators.Value{Defined: true, Value: 100},
		ADX:         indicators.DirectionalMovement{Defined: true, ADX: 30},
		VolumeRatio: indicators.VolumeRatio{Defined: true, Ratio: 0.5},
	}
	d := EvalScalping(set, oneBar(111), DefaultConfig())
	assert.Equal(t, domain.DecisionHold, d.Kind)
	assert.Contains(t, d.Reason, "volume")
}

func TestEvaluateUnknownStrategyHolds(t *testing.T) {
	d := Evaluate(Name("bogus"), indicators.Set{}, oneBar(100), DefaultConfig())
	assert.Equal(t, domain.DecisionHold, d.Kind)
}
