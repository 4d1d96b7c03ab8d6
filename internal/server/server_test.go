package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/activity"
	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/broker/paper"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/session"
	"github.com/kiteflow/trader/internal/supervisor"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()

	cat := catalog.New("paper", t.TempDir(), log)
	require.NoError(t, cat.Refresh([]domain.Instrument{
		{Exchange: "NSE", TradingSymbol: "RELIANCE", InstrumentToken: 1, Segment: domain.SegmentEquity, LotSize: 1, TickSize: 0.05},
	}))

	acts := activity.New(activity.DefaultCapacity, log)
	paperBroker := paper.New(100000, log)
	sup := supervisor.New(paperBroker, cat, acts, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Run(ctx)

	cfgStore := botconfig.NewStore(t.TempDir())

	s := New(Config{
		Port:        0,
		Log:         log,
		DevMode:     true,
		Vault:       nil,
		Catalog:     cat,
		ConfigStore: cfgStore,
		Supervisor:  sup,
		Ledger:      nil,
		Activities:  acts,
		Sessions:    session.NewManager(session.DefaultIdleTTL),
		Limiter:     session.NewLimiter(),
		LiveBrokers: nil,
		PaperBroker: paperBroker,
	})
	t.Cleanup(func() { sup.Shutdown() })
	return s
}

func issueSessionToken(t *testing.T, s *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/issue", nil)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok session.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tok))
	require.NotEmpty(t, tok.Value)
	return tok.Value
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestConfigPresetsReturnsFourStrategies(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/presets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var presets map[string]botconfig.Config
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&presets))
	assert.Len(t, presets, 4)
}

func TestMutationEndpointRequiresSessionToken(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/broker/connect", strings.NewReader(`{"broker":"paper"}`))
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBotLifecycleOverHTTP(t *testing.T) {
	s := testServer(t)
	tok := issueSessionToken(t, s)

	connectBody := `{"broker":"paper"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/broker/connect", strings.NewReader(connectBody))
	req.Header.Set(sessionTokenHeader, tok)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	startBody := `{
		"broker": "paper",
		"instruments": [{"exchange":"NSE","trading_symbol":"RELIANCE"}],
		"strategy": "trend_follow",
		"timeframe": "5m",
		"risk_per_trade_percent": 1,
		"reward_ratio": 2,
		"atr_multiplier": 1.5,
		"max_positions": 3,
		"max_daily_loss_percent": 3,
		"poll_interval_seconds": 30,
		"trading_hours": {"start":"09:15","end":"15:30"},
		"paper_trading": true
	}`
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/bot/start", strings.NewReader(startBody))
	req.Header.Set(sessionTokenHeader, tok)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bot/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status supervisor.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, supervisor.StateRunning, status.State)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/bot/stop", nil)
	req.Header.Set(sessionTokenHeader, tok)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitEventuallyRejects(t *testing.T) {
	s := testServer(t)
	var last int
	for i := 0; i < 70; i++ {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/presets", nil))
		last = rec.Code
		if last == http.StatusTooManyRequests {
			break
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
