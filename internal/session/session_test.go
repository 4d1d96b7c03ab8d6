package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueProducesUniqueTokens(t *testing.T) {
	m := NewManager(time.Minute)
	a, err := m.Issue()
	require.NoError(t, err)
	b, err := m.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, a.Value, b.Value)
}

func TestTouchValidatesLiveToken(t *testing.T) {
	m := NewManager(time.Minute)
	tok, err := m.Issue()
	require.NoError(t, err)
	assert.True(t, m.Touch(tok.Value))
}

func TestTouchRejectsUnknownToken(t *testing.T) {
	m := NewManager(time.Minute)
	assert.False(t, m.Touch("does-not-exist"))
}

func TestTouchExpiresIdleToken(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	tok, err := m.Issue()
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.Touch(tok.Value))
	assert.False(t, m.Touch(tok.Value), "expired token should be evicted, not just reported invalid once")
}

func TestRevokeInvalidatesToken(t *testing.T) {
	m := NewManager(time.Minute)
	tok, err := m.Issue()
	require.NoError(t, err)

	m.Revoke(tok.Value)
	assert.False(t, m.Touch(tok.Value))
}

func TestLimiterEnforcesMutationBudgetTighterThanReads(t *testing.T) {
	l := NewLimiter()

	reads := 0
	for i := 0; i < 60; i++ {
		if l.Allow("session-1", ClassRead) {
			reads++
		}
	}
	assert.Equal(t, 60, reads)
	assert.False(t, l.Allow("session-1", ClassRead), "61st read within the window should be throttled")

	muts := 0
	for i := 0; i < 10; i++ {
		if l.Allow("session-2", ClassMutation) {
			muts++
		}
	}
	assert.Equal(t, 10, muts)
	assert.False(t, l.Allow("session-2", ClassMutation))
}

func TestLimiterTracksIdentitiesIndependently(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("session-a", ClassMutation))
	}
	assert.False(t, l.Allow("session-a", ClassMutation))
	assert.True(t, l.Allow("session-b", ClassMutation), "a different identity must have its own budget")
}
