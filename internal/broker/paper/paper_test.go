package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
)

func connected(t *testing.T) (*Adapter, context.Context) {
	t.Helper()
	a := New(100000, zerolog.Nop())
	ctx := context.Background()
	_, err := a.Connect(ctx, domain.Credential{})
	require.NoError(t, err)
	return a, ctx
}

var testInstrument = domain.Instrument{Exchange: "NSE", TradingSymbol: "RELIANCE", InstrumentToken: 42, LotSize: 1}

func TestMarketOrderFillsImmediately(t *testing.T) {
	a, ctx := connected(t)

	id, err := a.PlaceOrder(ctx, domain.OrderIntent{
		Instrument: testInstrument, Side: domain.SideBuy, Quantity: 10, OrderType: domain.OrderTypeMarket,
	})
	require.NoError(t, err)

	orders, err := a.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].BrokerOrderID)
	assert.Equal(t, domain.OrderComplete, orders[0].Status)
	assert.Equal(t, int64(10), orders[0].FilledQty)
}

func TestOrderStateMachinePendingToComplete(t *testing.T) {
	a, ctx := connected(t)
	id, err := a.PlaceOrder(ctx, domain.OrderIntent{
		Instrument: testInstrument, Side: domain.SideBuy, Quantity: 5, OrderType: domain.OrderTypeMarket,
	})
	require.NoError(t, err)

	orders, _ := a.Orders(ctx)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Status.Terminal())

	err = a.CancelOrder(ctx, id)
	assert.ErrorIs(t, err, brokererr.ErrAlreadyTerminal)
}

func TestCancelUnknownOrderIsNotFound(t *testing.T) {
	a, ctx := connected(t)
	err := a.CancelOrder(ctx, "does-not-exist")
	assert.ErrorIs(t, err, brokererr.ErrNotFound)
}

func TestMarketBuyThenSellProducesRealizedPnL(t *testing.T) {
	a, ctx := connected(t)

	q, err := a.Quote(ctx, testInstrument)
	require.NoError(t, err)
	_ = q

	_, err = a.PlaceOrder(ctx, domain.OrderIntent{Instrument: testInstrument, Side: domain.SideBuy, Quantity: 10, OrderType: domain.OrderTypeMarket})
	require.NoError(t, err)

	positions, err := a.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].NetQuantity)

	_, err = a.PlaceOrder(ctx, domain.OrderIntent{Instrument: testInstrument, Side: domain.SideSell, Quantity: 10, OrderType: domain.OrderTypeMarket})
	require.NoError(t, err)

	positions, err = a.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(0), positions[0].NetQuantity)
	// Both fills use the same quote: bought 10 at ask, sold 10 at bid, so
	// the realized P&L is 10 x the 0.10 spread, a loss.
	assert.InDelta(t, -1.0, positions[0].RealizedPL, 1e-6)
}

func TestQuoteRequiresConnection(t *testing.T) {
	a := New(0, zerolog.Nop())
	_, err := a.Quote(context.Background(), testInstrument)
	assert.ErrorIs(t, err, brokererr.ErrNotConnected)
}

func TestHistoricalBarsAscendingAndFlagsFinalBar(t *testing.T) {
	a, ctx := connected(t)
	from := time.Now()
	to := from.Add(10 * time.Minute)
	bars, err := a.HistoricalBars(ctx, testInstrument, domain.Timeframe1m, from, to)
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp))
	}
	assert.False(t, bars[len(bars)-1].Final, "a bar whose interval ends exactly at to is complete")

	partial, err := a.HistoricalBars(ctx, testInstrument, domain.Timeframe1m, from, to.Add(30*time.Second))
	require.NoError(t, err)
	require.NotEmpty(t, partial)
	assert.True(t, partial[len(partial)-1].Final, "a bar whose interval extends past to is flagged")
}

func TestAccountSnapshotRequiresConnection(t *testing.T) {
	a := New(0, zerolog.Nop())
	_, err := a.AccountSnapshot(context.Background())
	assert.ErrorIs(t, err, brokererr.ErrNotConnected)
}
