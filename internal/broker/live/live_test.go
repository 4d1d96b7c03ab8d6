package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/domain"
)

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	cat := catalog.New("testbroker", t.TempDir(), zerolog.Nop())
	cfg := Config{BrokerName: "testbroker", BaseURL: srv.URL, LoginURL: srv.URL + "/login", RetryBudget: 1}
	return New(cfg, cat, zerolog.Nop())
}

func TestConnectRejectsMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, err := a.Connect(context.Background(), domain.Credential{})
	assert.ErrorIs(t, err, brokererr.ErrAuthFailed)
}

func TestConnectRejectsExpiredCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	cred := domain.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Hour)}
	_, err := a.Connect(context.Background(), cred)
	assert.ErrorIs(t, err, brokererr.ErrAuthFailed)
}

func TestQuoteClassifiesVendor5xxAsUnavailable(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instruments":
			_ = json.NewEncoder(w).Encode([]domain.Instrument{})
		case "/quote":
			calls++
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, err := a.Connect(context.Background(), domain.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	_, err = a.Quote(context.Background(), domain.Instrument{Exchange: "NSE", TradingSymbol: "TCS"})
	assert.ErrorIs(t, err, brokererr.ErrVendorUnavailable)
	assert.Greater(t, calls, 1, "transient failures should be retried within the retry budget")
}

func TestQuoteStaleBeyondPollingIntervalFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instruments":
			_ = json.NewEncoder(w).Encode([]domain.Instrument{})
		case "/quote":
			q := domain.Quote{Last: 100, Timestamp: time.Now().Add(-time.Hour)}
			_ = json.NewEncoder(w).Encode(q)
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, err := a.Connect(context.Background(), domain.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	_, err = a.Quote(context.Background(), domain.Instrument{Exchange: "NSE", TradingSymbol: "TCS"})
	assert.ErrorIs(t, err, brokererr.ErrStale)
}

func TestPlaceOrderRejectedStatusSurfacesAsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instruments":
			_ = json.NewEncoder(w).Encode([]domain.Instrument{})
		case "/orders":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"insufficient funds"}`))
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, err := a.Connect(context.Background(), domain.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	_, err = a.PlaceOrder(context.Background(), domain.OrderIntent{
		Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "TCS"},
		Side:       domain.SideBuy, Quantity: 1, OrderType: domain.OrderTypeMarket,
	})
	assert.ErrorIs(t, err, brokererr.ErrRejected)
}

func TestCompleteOAuthRejectsStaleState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, err := a.CompleteOAuth(context.Background(), "key", "secret", "reqtok", "unknown-state")
	assert.ErrorIs(t, err, brokererr.ErrValidation)
}

func TestCompleteOAuthSucceedsOnceThenRejectsRepeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/token" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv)

	_, state, err := a.IssueOAuthState("key")
	require.NoError(t, err)

	cred, err := a.CompleteOAuth(context.Background(), "key", "secret", "reqtok", state)
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)

	_, err = a.CompleteOAuth(context.Background(), "key", "secret", "reqtok", state)
	assert.ErrorIs(t, err, brokererr.ErrValidation)
}
