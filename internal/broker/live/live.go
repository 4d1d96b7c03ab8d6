// Package live implements the Broker Port against an OAuth-authenticated
// vendor REST API. It owns token lifecycle, a rate-aware request queue, and
// translation between the abstract domain types and vendor wire shapes.
package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/broker"
	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/domain"
)

// Config configures a live Adapter.
type Config struct {
	BrokerName     string
	BaseURL        string
	LoginURL       string
	RequestTimeout time.Duration
	RetryBudget    int // max retry attempts for Network/VendorUnavailable, default 3
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	return c
}

// Adapter is the OAuth-authenticated vendor Port implementation.
type Adapter struct {
	cfg     Config
	http    *resty.Client
	limiter *classLimiter
	states  *stateStore
	catalog *catalog.Catalog
	log     zerolog.Logger

	mu          sync.Mutex
	connected   bool
	accessToken string
	expiresAt   time.Time
}

// New constructs a live Adapter. cat is the instrument catalog the adapter
// refreshes on connect and on its periodic schedule.
func New(cfg Config, cat *catalog.Catalog, log zerolog.Logger) *Adapter {
	cfg = cfg.withDefaults()
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0). // retry/backoff policy is handled explicitly by withRetry, not resty's built-in retry
		SetHeader("Content-Type", "application/json")

	return &Adapter{
		cfg:     cfg,
		http:    httpClient,
		limiter: newClassLimiter(),
		states:  newStateStore(),
		catalog: cat,
		log:     log.With().Str("component", "live_broker").Str("broker", cfg.BrokerName).Logger(),
	}
}

// Kind reports this adapter's Port variant.
func (a *Adapter) Kind() broker.Kind { return broker.KindLive }

// IssueOAuthState mints a state nonce and returns the vendor authorization URL.
func (a *Adapter) IssueOAuthState(apiKey string) (url, state string, err error) {
	state, err = a.states.Issue()
	if err != nil {
		return "", "", err
	}
	return AuthorizationURL(a.cfg.LoginURL, apiKey, state), state, nil
}

// CompleteOAuth validates state and exchanges requestToken for an access
// token, returning a Credential ready to persist in the vault.
func (a *Adapter) CompleteOAuth(ctx context.Context, apiKey, apiSecret, requestToken, state string) (domain.Credential, error) {
	if !a.states.Consume(state) {
		return domain.Credential{}, fmt.Errorf("%w: stale-state", brokererr.ErrValidation)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetBody(map[string]string{"api_key": apiKey, "api_secret": apiSecret, "request_token": requestToken}).
		SetResult(&body).
		Post("/session/token")
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", brokererr.ErrNetworkFailed, err)
	}
	if resp.StatusCode() >= 500 {
		return domain.Credential{}, brokererr.ErrVendorUnavailable
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.Credential{}, fmt.Errorf("%w: token exchange status %d", brokererr.ErrAuthFailed, resp.StatusCode())
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 24 * 60 * 60 // vendor access tokens typically expire daily
	}
	return domain.Credential{
		Broker:      a.cfg.BrokerName,
		APIKey:      apiKey,
		APISecret:   apiSecret,
		AccessToken: body.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// Connect establishes an authenticated session from a previously-issued
// Credential (typically loaded from the vault). Idempotent.
func (a *Adapter) Connect(ctx context.Context, cred domain.Credential) (broker.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return broker.ConnectResult{Kind: broker.KindLive, Broker: a.cfg.BrokerName, ConnectedAt: time.Now()}, nil
	}

	if cred.AccessToken == "" {
		return broker.ConnectResult{}, fmt.Errorf("%w: no access token on credential", brokererr.ErrAuthFailed)
	}
	if !cred.ExpiresAt.IsZero() && time.Now().After(cred.ExpiresAt) {
		return broker.ConnectResult{}, fmt.Errorf("%w: expired", brokererr.ErrAuthFailed)
	}

	a.accessToken = cred.AccessToken
	a.expiresAt = cred.ExpiresAt
	a.http.SetAuthToken(a.accessToken)
	a.connected = true

	if err := a.refreshCatalogLocked(ctx); err != nil {
		a.log.Warn().Err(err).Msg("instrument catalog refresh failed on connect")
	}

	return broker.ConnectResult{Kind: broker.KindLive, Broker: a.cfg.BrokerName, ConnectedAt: time.Now()}, nil
}

// Disconnect tears down the session; safe after a failed Connect.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.accessToken = ""
	return nil
}

// IsConnected is cheap and non-blocking.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) checkSessionLocked() error {
	if !a.connected {
		return brokererr.ErrNotConnected
	}
	if !a.expiresAt.IsZero() && time.Now().After(a.expiresAt) {
		a.connected = false
		return fmt.Errorf("%w: expired", brokererr.ErrAuthFailed)
	}
	return nil
}

// RefreshCatalog refetches the instrument master and swaps it into the
// shared Catalog atomically. Called on connect and by the periodic scheduler.
func (a *Adapter) RefreshCatalog(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCatalogLocked(ctx)
}

func (a *Adapter) refreshCatalogLocked(ctx context.Context) error {
	var instruments []domain.Instrument
	err := a.withRetry(ctx, a.limiter.waitHistory, func() error {
		resp, err := a.http.R().SetContext(ctx).SetResult(&instruments).Get("/instruments")
		return a.classifyResponse(resp, err)
	})
	if err != nil {
		return err
	}
	return a.catalog.Refresh(instruments)
}

// AccountSnapshot fetches current account state.
func (a *Adapter) AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	a.mu.Lock()
	err := a.checkSessionLocked()
	a.mu.Unlock()
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	var snap domain.AccountSnapshot
	err = a.withRetry(ctx, a.limiter.waitQuotes, func() error {
		resp, err := a.http.R().SetContext(ctx).SetResult(&snap).Get("/account")
		return a.classifyResponse(resp, err)
	})
	return snap, err
}

// Quote fetches a fresh quote, rejecting with brokererr.ErrStale one whose
// timestamp is more than two minutes old. The threshold is fixed; it does
// not follow the Supervisor's configured poll interval.
func (a *Adapter) Quote(ctx context.Context, instrument domain.Instrument) (domain.Quote, error) {
	a.mu.Lock()
	err := a.checkSessionLocked()
	a.mu.Unlock()
	if err != nil {
		return domain.Quote{}, err
	}

	var quote domain.Quote
	err = a.withRetry(ctx, a.limiter.waitQuotes, func() error {
		resp, err := a.http.R().SetContext(ctx).
			SetQueryParam("trading_symbol", instrument.TradingSymbol).
			SetQueryParam("exchange", instrument.Exchange).
			SetResult(&quote).Get("/quote")
		return a.classifyResponse(resp, err)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	if time.Since(quote.Timestamp) > 2*time.Minute {
		return domain.Quote{}, brokererr.ErrStale
	}
	return quote, nil
}

// HistoricalBars fetches bars in ascending time order for [from, to].
func (a *Adapter) HistoricalBars(ctx context.Context, instrument domain.Instrument, timeframe domain.Timeframe, from, to time.Time) ([]domain.Bar, error) {
	a.mu.Lock()
	err := a.checkSessionLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	err = a.withRetry(ctx, a.limiter.waitHistory, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"instrument_token": fmt.Sprintf("%d", instrument.InstrumentToken),
				"timeframe":        string(timeframe),
				"from":             from.Format(time.RFC3339),
				"to":               to.Format(time.RFC3339),
			}).
			SetResult(&bars).Get("/historical-bars")
		return a.classifyResponse(resp, reqErr)
	})
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 && to.Before(bars[len(bars)-1].Timestamp.Add(timeframe.Duration())) {
		bars[len(bars)-1].Final = true
	}
	return bars, nil
}

// PlaceOrder translates intent into vendor fields and submits it.
func (a *Adapter) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	a.mu.Lock()
	err := a.checkSessionLocked()
	a.mu.Unlock()
	if err != nil {
		return "", err
	}

	payload := map[string]interface{}{
		"exchange":         intent.Instrument.Exchange,
		"trading_symbol":   intent.Instrument.TradingSymbol,
		"transaction_type": translateSide(intent.Side),
		"order_type":       translateOrderType(intent.OrderType),
		"product":          translateProduct(intent.Product),
		"validity":         translateValidity(intent.Validity),
		"quantity":         intent.Quantity,
		"price":            intent.Price,
		"trigger_price":    intent.StopLoss,
	}

	var result struct {
		OrderID string `json:"order_id"`
	}
	err = a.withRetry(ctx, a.limiter.waitOrders, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).SetBody(payload).SetResult(&result).Post("/orders")
		if resp != nil && resp.StatusCode() == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", brokererr.ErrRejected, resp.String())
		}
		return a.classifyResponse(resp, reqErr)
	})
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// ModifyOrder applies a partial update to an existing order.
func (a *Adapter) ModifyOrder(ctx context.Context, id string, changes broker.OrderChanges) error {
	payload := map[string]interface{}{}
	if changes.Quantity != nil {
		payload["quantity"] = *changes.Quantity
	}
	if changes.Price != nil {
		payload["price"] = *changes.Price
	}
	if changes.StopLoss != nil {
		payload["trigger_price"] = *changes.StopLoss
	}

	return a.withRetry(ctx, a.limiter.waitOrders, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).SetBody(payload).Put("/orders/" + id)
		if resp != nil && resp.StatusCode() == http.StatusConflict {
			return brokererr.ErrAlreadyTerminal
		}
		return a.classifyResponse(resp, reqErr)
	})
}

// CancelOrder cancels an order; idempotent on terminal orders.
func (a *Adapter) CancelOrder(ctx context.Context, id string) error {
	return a.withRetry(ctx, a.limiter.waitOrders, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).Delete("/orders/" + id)
		if resp != nil && resp.StatusCode() == http.StatusConflict {
			return brokererr.ErrAlreadyTerminal
		}
		return a.classifyResponse(resp, reqErr)
	})
}

// Positions returns current positions.
func (a *Adapter) Positions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := a.withRetry(ctx, a.limiter.waitQuotes, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).SetResult(&positions).Get("/positions")
		return a.classifyResponse(resp, reqErr)
	})
	return positions, err
}

// Orders returns current orders.
func (a *Adapter) Orders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := a.withRetry(ctx, a.limiter.waitOrders, func() error {
		resp, reqErr := a.http.R().SetContext(ctx).SetResult(&orders).Get("/orders")
		return a.classifyResponse(resp, reqErr)
	})
	return orders, err
}

// Trades returns fills since the given time, or all fills if since is nil.
func (a *Adapter) Trades(ctx context.Context, since *time.Time) ([]domain.Trade, error) {
	req := a.http.R().SetContext(ctx)
	if since != nil {
		req = req.SetQueryParam("since", since.Format(time.RFC3339))
	}
	var trades []domain.Trade
	err := a.withRetry(ctx, a.limiter.waitOrders, func() error {
		resp, reqErr := req.SetResult(&trades).Get("/trades")
		return a.classifyResponse(resp, reqErr)
	})
	return trades, err
}

// classifyResponse maps a resty response/error pair to the error taxonomy.
func (a *Adapter) classifyResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", brokererr.ErrNetworkFailed, err)
	}
	switch {
	case resp.StatusCode() >= 500:
		return brokererr.ErrVendorUnavailable
	case resp.StatusCode() == http.StatusTooManyRequests:
		return brokererr.ErrRateLimited
	case resp.StatusCode() == http.StatusUnauthorized:
		return brokererr.ErrAuthFailed
	case resp.StatusCode() >= 400:
		return fmt.Errorf("%w: vendor status %d: %s", brokererr.ErrValidation, resp.StatusCode(), resp.String())
	}
	return nil
}

// withRetry runs op, retrying transient failures (Network/VendorUnavailable)
// with jittered exponential backoff up to the adapter's retry budget. Auth
// failures are never retried.
func (a *Adapter) withRetry(ctx context.Context, waitClass func(context.Context) error, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := waitClass(ctx); err != nil {
			return fmt.Errorf("%w: %v", brokererr.ErrRateLimited, err)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == a.cfg.RetryBudget {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	return errors.Is(err, brokererr.ErrNetworkFailed) || errors.Is(err, brokererr.ErrVendorUnavailable)
}

func translateSide(s domain.Side) string {
	if s == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

func translateOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeSL:
		return "SL"
	case domain.OrderTypeSLM:
		return "SL-M"
	default:
		return "MARKET"
	}
}

func translateProduct(p domain.Product) string {
	switch p {
	case domain.ProductCNC:
		return "CNC"
	case domain.ProductNRML:
		return "NRML"
	default:
		return "MIS"
	}
}

func translateValidity(v domain.Validity) string {
	if v == domain.ValidityIOC {
		return "IOC"
	}
	return "DAY"
}

var _ broker.Port = (*Adapter)(nil)
