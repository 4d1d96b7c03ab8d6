package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/domain"
)

// fixedQuoteBroker is a minimal stand-in for the Quote/PlaceOrder slice of
// broker.Port that enforceBrackets needs; it always quotes last and records
// every order it is asked to place.
type fixedQuoteBroker struct {
	last   float64
	placed []domain.OrderIntent
}

func (f *fixedQuoteBroker) Quote(ctx context.Context, inst domain.Instrument) (domain.Quote, error) {
	return domain.Quote{InstrumentToken: inst.InstrumentToken, Last: f.last, Bid: f.last - 0.05, Ask: f.last + 0.05}, nil
}

func (f *fixedQuoteBroker) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	f.placed = append(f.placed, intent)
	return "exit-order-1", nil
}

func TestEnforceBracketsSubmitsExitOnStopBreach(t *testing.T) {
	sup, _, acts := newTestSupervisor(t)
	inst := testInstrument()
	key := inst.Key()

	sup.positions[key] = domain.Position{Instrument: inst, NetQuantity: 10, AvgEntry: 100}
	sup.brackets[key] = positionBracket{Instrument: inst, StopLoss: 95, TakeProfit: 120}

	fb := &fixedQuoteBroker{last: 94} // below the stop

	sup.enforceBrackets(context.Background(), fb)

	require.Len(t, fb.placed, 1)
	assert.Equal(t, domain.SideSell, fb.placed[0].Side)
	assert.Equal(t, int64(10), fb.placed[0].Quantity)
	assert.Equal(t, domain.OrderTypeMarket, fb.placed[0].OrderType)

	_, stillTracked := sup.brackets[key]
	assert.False(t, stillTracked, "bracket should stop being tracked once its exit is submitted")

	warnings := acts.Recent(domain.ActivityPosition, 0)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0].Message, "bracket exit submitted")
}

func TestEnforceBracketsSubmitsExitOnTargetBreach(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	inst := testInstrument()
	key := inst.Key()

	sup.positions[key] = domain.Position{Instrument: inst, NetQuantity: -5, AvgEntry: 100}
	sup.brackets[key] = positionBracket{Instrument: inst, StopLoss: 110, TakeProfit: 90}

	fb := &fixedQuoteBroker{last: 89} // short position, price dropped through the target

	sup.enforceBrackets(context.Background(), fb)

	require.Len(t, fb.placed, 1)
	assert.Equal(t, domain.SideBuy, fb.placed[0].Side)
	assert.Equal(t, int64(5), fb.placed[0].Quantity)
}

func TestEnforceBracketsDoesNothingWithinRange(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	inst := testInstrument()
	key := inst.Key()

	sup.positions[key] = domain.Position{Instrument: inst, NetQuantity: 10, AvgEntry: 100}
	sup.brackets[key] = positionBracket{Instrument: inst, StopLoss: 95, TakeProfit: 120}

	fb := &fixedQuoteBroker{last: 105}

	sup.enforceBrackets(context.Background(), fb)

	assert.Empty(t, fb.placed)
	_, stillTracked := sup.brackets[key]
	assert.True(t, stillTracked)
}

func TestEnforceBracketsDropsTrackingWhenPositionAlreadyFlat(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	inst := testInstrument()
	key := inst.Key()

	sup.brackets[key] = positionBracket{Instrument: inst, StopLoss: 95, TakeProfit: 120}
	fb := &fixedQuoteBroker{last: 50}

	sup.enforceBrackets(context.Background(), fb)

	assert.Empty(t, fb.placed)
	_, stillTracked := sup.brackets[key]
	assert.False(t, stillTracked)
}

func TestRecordBracketIgnoresOrdersWithoutBracketPrices(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	inst := testInstrument()

	sup.recordBracket(domain.Order{
		Intent: domain.OrderIntent{Instrument: inst, Side: domain.SideBuy},
		Status: domain.OrderComplete,
	})

	_, tracked := sup.brackets[inst.Key()]
	assert.False(t, tracked)
}

func TestRecordBracketTracksEntryWithBracketPrices(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	inst := testInstrument()

	sup.recordBracket(domain.Order{
		Intent: domain.OrderIntent{Instrument: inst, Side: domain.SideBuy, StopLoss: 95, TakeProfit: 120},
		Status: domain.OrderComplete,
	})

	b, tracked := sup.brackets[inst.Key()]
	require.True(t, tracked)
	assert.Equal(t, 95.0, b.StopLoss)
	assert.Equal(t, 120.0, b.TakeProfit)
}
