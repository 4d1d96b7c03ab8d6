// Package analytics derives lightweight per-instrument diagnostics from
// executed trade history. It is a read-only view over the Ledger, never a
// trading decision input: the Strategy and Risk packages size and time
// orders on their own indicator and bar data.
package analytics

import (
	"sort"

	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/pkg/formulas"
)

// InstrumentStats summarizes the executed fills for one instrument.
type InstrumentStats struct {
	Exchange             string  `json:"exchange"`
	TradingSymbol        string  `json:"trading_symbol"`
	TradeCount           int     `json:"trade_count"`
	MeanPrice            float64 `json:"mean_price"`
	PriceStdDev          float64 `json:"price_stddev"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	TotalFees            float64 `json:"total_fees"`
}

// TradeStats groups trades by instrument and computes price dispersion and
// an annualized-volatility proxy from the per-trade return series. Trades
// are expected ordered oldest-first; any order is accepted, this function
// sorts by timestamp internally before computing returns.
func TradeStats(trades []domain.Trade) []InstrumentStats {
	byKey := make(map[string][]domain.Trade)
	for _, t := range trades {
		key := t.Instrument.Exchange + ":" + t.Instrument.TradingSymbol
		byKey[key] = append(byKey[key], t)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]InstrumentStats, 0, len(keys))
	for _, key := range keys {
		group := byKey[key]
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })

		prices := make([]float64, len(group))
		var fees float64
		for i, t := range group {
			prices[i] = t.Price
			fees += t.Fees
		}
		returns := formulas.CalculateReturns(prices)

		out = append(out, InstrumentStats{
			Exchange:             group[0].Instrument.Exchange,
			TradingSymbol:        group[0].Instrument.TradingSymbol,
			TradeCount:           len(group),
			MeanPrice:            formulas.Mean(prices),
			PriceStdDev:          formulas.StdDev(prices),
			AnnualizedVolatility: formulas.AnnualizedVolatility(returns),
			TotalFees:            fees,
		})
	}
	return out
}
