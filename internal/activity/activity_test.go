package activity

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/domain"
)

func TestRecentReturnsNewestFirst(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Record(domain.Activity{Message: "first"})
	l.Record(domain.Activity{Message: "second"})
	l.Record(domain.Activity{Message: "third"})

	recent := l.Recent("", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)
	assert.Equal(t, "first", recent[2].Message)
}

func TestRecentWrapsAtCapacity(t *testing.T) {
	l := New(3, zerolog.Nop())
	for i := 0; i < 5; i++ {
		l.Record(domain.Activity{Message: string(rune('a' + i))})
	}

	recent := l.Recent("", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].Message)
	assert.Equal(t, "d", recent[1].Message)
	assert.Equal(t, "c", recent[2].Message)
}

func TestRecentFiltersByKind(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Record(domain.Activity{Kind: domain.ActivitySignal, Message: "signal"})
	l.Record(domain.Activity{Kind: domain.ActivityOrder, Message: "order"})
	l.Record(domain.Activity{Kind: domain.ActivitySignal, Message: "signal2"})

	signals := l.Recent(domain.ActivitySignal, 0)
	require.Len(t, signals, 2)
	for _, a := range signals {
		assert.Equal(t, domain.ActivitySignal, a.Kind)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	l := New(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		l.Record(domain.Activity{Message: "x"})
	}
	assert.Len(t, l.Recent("", 2), 2)
}

func TestClearEmptiesHistory(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Record(domain.Activity{Message: "x"})
	l.Clear()
	assert.Empty(t, l.Recent("", 0))
}

func TestSubscribeReceivesFutureActivitiesOnly(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Record(domain.Activity{Message: "before"})

	ch, cancel := l.Subscribe()
	defer cancel()

	l.Record(domain.Activity{Message: "after"})

	select {
	case a := <-ch:
		assert.Equal(t, "after", a.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed activity")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := New(10, zerolog.Nop())
	ch, cancel := l.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Record(domain.Activity{Message: "x"})
	recent := l.Recent("", 1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Timestamp.IsZero())
}
