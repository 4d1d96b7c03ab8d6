package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kiteflow/trader/internal/domain"
)

func syntheticBars(n int, start float64, step float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := start
	base := time.Date(2026, 1, 1, 9, 15, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price += step
		bars[i] = domain.Bar{
			Open: price - step, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 1000 + int64(i), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return bars
}

func TestEMAInsufficientDataIsUndefined(t *testing.T) {
	bars := syntheticBars(5, 100, 1)
	v := EMA(bars, 20)
	assert.False(t, v.Defined)
}

func TestEMASufficientDataIsDefined(t *testing.T) {
	bars := syntheticBars(50, 100, 1)
	v := EMA(bars, 20)
	assert.True(t, v.Defined)
	assert.Greater(t, v.Value, 0.0)
}

func TestRSIBoundedZeroToHundred(t *testing.T) {
	bars := syntheticBars(60, 100, 1) // monotonically rising
	v := RSI(bars, 14)
	assert.True(t, v.Defined)
	assert.GreaterOrEqual(t, v.Value, 0.0)
	assert.LessOrEqual(t, v.Value, 100.0)
}

func TestMACDUndefinedOnShortSeries(t *testing.T) {
	bars := syntheticBars(10, 100, 1)
	m := ComputeMACD(bars, 12, 26, 9)
	assert.False(t, m.Defined)
}

func TestMACDDefinedOnLongSeries(t *testing.T) {
	bars := syntheticBars(100, 100, 0.5)
	m := ComputeMACD(bars, 12, 26, 9)
	assert.True(t, m.Defined)
}

func TestBollingerOrdering(t *testing.T) {
	bars := syntheticBars(60, 100, 0)
	bb := ComputeBollinger(bars, 20, 2.0)
	assert.True(t, bb.Defined)
	assert.GreaterOrEqual(t, bb.Upper, bb.Mid)
	assert.GreaterOrEqual(t, bb.Mid, bb.Lower)
}

func TestVolumeRatioAgainstOwnAverage(t *testing.T) {
	bars := syntheticBars(40, 100, 1)
	vr := ComputeVolumeRatio(bars, 20)
	assert.True(t, vr.Defined)
	assert.Greater(t, vr.MA, 0.0)
}

func TestComputeSetReturnsAllFields(t *testing.T) {
	bars := syntheticBars(100, 100, 1)
	set := Compute(bars, DefaultParams())
	assert.True(t, set.FastEMA.Defined)
	assert.True(t, set.SlowEMA.Defined)
	assert.True(t, set.RSI.Defined)
	assert.True(t, set.MACD.Defined)
	assert.True(t, set.ATR.Defined)
	assert.True(t, set.ADX.Defined)
	assert.True(t, set.Bollinger.Defined)
	assert.True(t, set.VolumeRatio.Defined)
}
