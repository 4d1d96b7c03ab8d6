// Package indicators computes rolling technical indicators from bar series.
// Every function is pure: a function of its input slice only, with no hidden
// state across invocations. Insufficient input returns the zero Value
// (Defined == false); functions never panic or return an error for that case.
package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/kiteflow/trader/internal/domain"
)

// Value wraps a single scalar indicator result, distinguishing "undefined"
// (insufficient data, or NaN from the underlying library) from a real zero.
type Value struct {
	Defined bool
	Value   float64
}

func defined(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{Defined: true, Value: v}
}

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highs(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func volumes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Volume)
	}
	return out
}

func last(series []float64) Value {
	if len(series) == 0 {
		return Value{}
	}
	return defined(series[len(series)-1])
}

// EMA returns the exponential moving average of the last n periods.
func EMA(bars []domain.Bar, n int) Value {
	if n <= 0 || len(bars) < n {
		return Value{}
	}
	return last(talib.Ema(closes(bars), n))
}

// SMA returns the simple moving average of the last n periods.
func SMA(bars []domain.Bar, n int) Value {
	if n <= 0 || len(bars) < n {
		return Value{}
	}
	return last(talib.Sma(closes(bars), n))
}

// RSI returns the Wilder-smoothed relative strength index.
func RSI(bars []domain.Bar, n int) Value {
	if n <= 0 || len(bars) < n+1 {
		return Value{}
	}
	return last(talib.Rsi(closes(bars), n))
}

// MACD is the {macd, signal, histogram} triple.
type MACD struct {
	Defined   bool
	MACD      float64
	Signal    float64
	Histogram float64
}

// ComputeMACD returns the MACD line, its signal line, and their histogram.
func ComputeMACD(bars []domain.Bar, fast, slow, signal int) MACD {
	if slow <= 0 || len(bars) < slow+signal {
		return MACD{}
	}
	macdLine, signalLine, hist := talib.Macd(closes(bars), fast, slow, signal)
	m, s, h := last(macdLine), last(signalLine), last(hist)
	if !m.Defined || !s.Defined || !h.Defined {
		return MACD{}
	}
	return MACD{Defined: true, MACD: m.Value, Signal: s.Value, Histogram: h.Value}
}

// ATR returns the Wilder-smoothed average true range.
func ATR(bars []domain.Bar, n int) Value {
	if n <= 0 || len(bars) < n+1 {
		return Value{}
	}
	return last(talib.Atr(highs(bars), lows(bars), closes(bars), n))
}

// DirectionalMovement is {ADX, +DI, -DI}.
type DirectionalMovement struct {
	Defined bool
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ComputeADX returns ADX with its directional indicators.
func ComputeADX(bars []domain.Bar, n int) DirectionalMovement {
	if n <= 0 || len(bars) < 2*n {
		return DirectionalMovement{}
	}
	h, l, c := highs(bars), lows(bars), closes(bars)
	adx := last(talib.Adx(h, l, c, n))
	plusDI := last(talib.PlusDI(h, l, c, n))
	minusDI := last(talib.MinusDI(h, l, c, n))
	if !adx.Defined || !plusDI.Defined || !minusDI.Defined {
		return DirectionalMovement{}
	}
	return DirectionalMovement{Defined: true, ADX: adx.Value, PlusDI: plusDI.Value, MinusDI: minusDI.Value}
}

// Bollinger is the {upper, mid, lower} band triple.
type Bollinger struct {
	Defined bool
	Upper   float64
	Mid     float64
	Lower   float64
}

// ComputeBollinger returns n-period Bollinger bands at k standard deviations.
func ComputeBollinger(bars []domain.Bar, n int, k float64) Bollinger {
	if n <= 0 || len(bars) < n {
		return Bollinger{}
	}
	upper, mid, lower := talib.BBands(closes(bars), n, k, k, talib.SMA)
	u, m, lo := last(upper), last(mid), last(lower)
	if !u.Defined || !m.Defined || !lo.Defined {
		return Bollinger{}
	}
	return Bollinger{Defined: true, Upper: u.Value, Mid: m.Value, Lower: lo.Value}
}

// VolumeRatio is the current volume's ratio to its own n-period moving
// average, along with that average.
type VolumeRatio struct {
	Defined bool
	MA      float64
	Ratio   float64
}

// ComputeVolumeRatio returns the last bar's volume relative to its n-period MA.
func ComputeVolumeRatio(bars []domain.Bar, n int) VolumeRatio {
	if n <= 0 || len(bars) < n {
		return VolumeRatio{}
	}
	ma := last(talib.Sma(volumes(bars), n))
	if !ma.Defined || ma.Value == 0 {
		return VolumeRatio{}
	}
	currentVolume := float64(bars[len(bars)-1].Volume)
	return VolumeRatio{Defined: true, MA: ma.Value, Ratio: currentVolume / ma.Value}
}

// Set is the bundle of indicator readings a strategy evaluator consumes for
// one evaluation tick. It is computed fresh from the current bar window;
// callers never mutate a Set across ticks.
type Set struct {
	FastEMA     Value
	SlowEMA     Value
	RSI         Value
	MACD        MACD
	ATR         Value
	ADX         DirectionalMovement
	Bollinger   Bollinger
	VolumeRatio VolumeRatio
}

// Params configures the lookbacks used to build a Set; BotConfig's
// indicator_params key maps onto this struct with defaults filled in for
// anything unset.
type Params struct {
	FastEMA      int
	SlowEMA      int
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	ATRPeriod    int
	ADXPeriod    int
	BollingerN   int
	BollingerK   float64
	VolumeMAN    int
}

// DefaultParams returns the lookbacks used when BotConfig does not override them.
func DefaultParams() Params {
	return Params{
		FastEMA:    9,
		SlowEMA:    21,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		ATRPeriod:  14,
		ADXPeriod:  14,
		BollingerN: 20,
		BollingerK: 2.0,
		VolumeMAN:  20,
	}
}

// ParamsFromOverrides returns DefaultParams with any recognized key in
// overrides applied on top. Unrecognized keys are ignored; BotConfig
// validation has no opinion on indicator_params beyond "is a number", so the
// ignoring happens here rather than at the config layer.
func ParamsFromOverrides(overrides map[string]float64) Params {
	p := DefaultParams()
	for key, v := range overrides {
		switch key {
		case "fast_ema":
			p.FastEMA = int(v)
		case "slow_ema":
			p.SlowEMA = int(v)
		case "rsi_period":
			p.RSIPeriod = int(v)
		case "macd_fast":
			p.MACDFast = int(v)
		case "macd_slow":
			p.MACDSlow = int(v)
		case "macd_signal":
			p.MACDSignal = int(v)
		case "atr_period":
			p.ATRPeriod = int(v)
		case "adx_period":
			p.ADXPeriod = int(v)
		case "bollinger_n":
			p.BollingerN = int(v)
		case "bollinger_k":
			p.BollingerK = v
		case "volume_ma_n":
			p.VolumeMAN = int(v)
		}
	}
	return p
}

// WarmupBars is the minimum bar count Compute needs for every indicator in p
// to come back defined; the Supervisor seeds at least this many bars from
// history before entering its tick loop.
func WarmupBars(p Params) int {
	max := func(a, b int) int {
		if a > b {
			return a
		}
		return b
	}
	n := max(p.SlowEMA, p.FastEMA)
	n = max(n, p.RSIPeriod+1)
	n = max(n, p.MACDSlow+p.MACDSignal)
	n = max(n, p.ATRPeriod+1)
	n = max(n, 2*p.ADXPeriod)
	n = max(n, p.BollingerN)
	n = max(n, p.VolumeMAN)
	return n + 5
}

// Compute builds a full Set from bars using p. Indicators with insufficient
// data come back with Defined == false; callers (strategies) must treat that
// as a reason to Hold, never as an error.
func Compute(bars []domain.Bar, p Params) Set {
	return Set{
		FastEMA:     EMA(bars, p.FastEMA),
		SlowEMA:     EMA(bars, p.SlowEMA),
		RSI:         RSI(bars, p.RSIPeriod),
		MACD:        ComputeMACD(bars, p.MACDFast, p.MACDSlow, p.MACDSignal),
		ATR:         ATR(bars, p.ATRPeriod),
		ADX:         ComputeADX(bars, p.ADXPeriod),
		Bollinger:   ComputeBollinger(bars, p.BollingerN, p.BollingerK),
		VolumeRatio: ComputeVolumeRatio(bars, p.VolumeMAN),
	}
}
