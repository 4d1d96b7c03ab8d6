// Package server exposes the session-scoped REST control plane over the
// Supervisor, the Vault, the Catalog, and the current broker Adapter. It
// never performs business logic itself; every handler routes to one of
// those owners, or to the bot config store, the ledger or the activity log,
// and translates the result to the control plane's JSON and error shapes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/activity"
	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/broker"
	"github.com/kiteflow/trader/internal/broker/live"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/ledger"
	"github.com/kiteflow/trader/internal/session"
	"github.com/kiteflow/trader/internal/supervisor"
	"github.com/kiteflow/trader/internal/vault"
)

// BrokerFactory builds a live broker.Port for a named vendor. Registered
// vendors are the only valid `broker` values for /broker/connect besides
// "paper".
type BrokerFactory func(name string) (*live.Adapter, bool)

// Config holds everything the control plane needs to construct its routes.
type Config struct {
	Port        int
	Log         zerolog.Logger
	DevMode     bool
	Vault       *vault.Vault
	Catalog     *catalog.Catalog
	ConfigStore *botconfig.Store
	Supervisor  *supervisor.Supervisor
	Ledger      *ledger.Repository
	Activities  *activity.Log
	Sessions    *session.Manager
	Limiter     *session.Limiter
	LiveBrokers BrokerFactory
	LiveBrokerNames []string
	PaperBroker broker.Port
}

// Server is the HTTP control plane.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	vault       *vault.Vault
	catalog     *catalog.Catalog
	configStore *botconfig.Store
	supervisor  *supervisor.Supervisor
	ledger      *ledger.Repository
	acts        *activity.Log
	sessions    *session.Manager
	limiter     *session.Limiter
	liveBrokers     BrokerFactory
	liveBrokerNames []string
	paperBroker     broker.Port

	brokerMu      sync.Mutex
	currentBroker broker.Port
	currentKind   string

	pendingOAuthMu sync.Mutex
	pendingOAuth   map[string]oauthInitiateRequest
}

// New constructs a Server ready to ListenAndServe.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		vault:       cfg.Vault,
		catalog:     cfg.Catalog,
		configStore: cfg.ConfigStore,
		supervisor:  cfg.Supervisor,
		ledger:      cfg.Ledger,
		acts:        cfg.Activities,
		sessions:    cfg.Sessions,
		limiter:     cfg.Limiter,
		liveBrokers:     cfg.LiveBrokers,
		liveBrokerNames: cfg.LiveBrokerNames,
		paperBroker:     cfg.PaperBroker,
		currentBroker:   cfg.PaperBroker,
		currentKind:     "paper",
		pendingOAuth:    make(map[string]oauthInitiateRequest),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.handleSystemStatus)

		// Session issuance is not itself rate-limited under an
		// authenticated identity (there isn't one yet); it shares the
		// anonymous read budget.
		r.Route("/session", func(r chi.Router) {
			r.With(s.rateLimited(session.ClassRead)).Post("/issue", s.handleSessionIssue)
			r.With(s.rateLimited(session.ClassRead)).Post("/revoke", s.handleSessionRevoke)
		})

		r.Route("/broker", func(r chi.Router) {
			r.With(s.rateLimited(session.ClassRead)).Get("/list", s.handleBrokerList)
			r.With(s.rateLimited(session.ClassMutation)).Post("/connect", s.handleBrokerConnect)
			r.With(s.rateLimited(session.ClassMutation)).Post("/disconnect", s.handleBrokerDisconnect)
			r.With(s.rateLimited(session.ClassRead)).Get("/status", s.handleBrokerStatus)
			r.With(s.rateLimited(session.ClassMutation)).Post("/oauth/initiate", s.handleOAuthInitiate)
			r.With(s.rateLimited(session.ClassRead)).Get("/oauth/callback", s.handleOAuthCallback)
		})

		r.Route("/instruments", func(r chi.Router) {
			r.With(s.rateLimited(session.ClassRead)).Get("/", s.handleInstrumentSearch)
			r.With(s.rateLimited(session.ClassRead)).Get("/quote/{trading_symbol}", s.handleInstrumentQuote)
			r.With(s.rateLimited(session.ClassRead)).Get("/{instrument_token}", s.handleInstrumentByToken)
		})

		r.Route("/config", func(r chi.Router) {
			r.With(s.rateLimited(session.ClassRead)).Get("/", s.handleConfigGet)
			r.With(s.rateLimited(session.ClassMutation)).Post("/", s.handleConfigSave)
			r.With(s.rateLimited(session.ClassRead)).Get("/list", s.handleConfigList)
			r.With(s.rateLimited(session.ClassRead)).Get("/presets", s.handleConfigPresets)
			r.With(s.rateLimited(session.ClassMutation)).Post("/validate", s.handleConfigValidate)
			r.With(s.rateLimited(session.ClassRead)).Get("/{name}", s.handleConfigGetNamed)
			r.With(s.rateLimited(session.ClassMutation)).Delete("/{name}", s.handleConfigDeleteNamed)
		})

		r.Route("/bot", func(r chi.Router) {
			r.With(s.rateLimited(session.ClassMutation)).Post("/start", s.handleBotStart)
			r.With(s.rateLimited(session.ClassMutation)).Post("/stop", s.handleBotStop)
			r.With(s.rateLimited(session.ClassMutation)).Post("/restart", s.handleBotRestart)
			r.With(s.rateLimited(session.ClassRead)).Get("/status", s.handleBotStatus)
			r.With(s.rateLimited(session.ClassRead)).Get("/account", s.handleBotAccount)
			r.With(s.rateLimited(session.ClassRead)).Get("/positions", s.handleBotPositions)
			r.With(s.rateLimited(session.ClassRead)).Get("/trades", s.handleBotTrades)
			r.With(s.rateLimited(session.ClassRead)).Get("/stats", s.handleBotStats)
			r.With(s.rateLimited(session.ClassRead)).Get("/activities", s.handleBotActivities)
			r.With(s.rateLimited(session.ClassMutation)).Post("/activities/clear", s.handleBotActivitiesClear)
			r.With(s.rateLimited(session.ClassMutation)).Delete("/positions/{trading_symbol}", s.handleBotClosePosition)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// broker returns the adapter currently selected via /broker/connect; before
// any connect this run it is the configured paper adapter.
func (s *Server) broker() broker.Port {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()
	return s.currentBroker
}

func (s *Server) currentBrokerName() string {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()
	return s.currentKind
}

// setCurrentBroker records the connected adapter as current and hands it to
// the Supervisor, which ticks against whatever Port SetBroker last set.
func (s *Server) setCurrentBroker(p broker.Port, name string) {
	s.brokerMu.Lock()
	s.currentBroker = p
	s.currentKind = name
	s.brokerMu.Unlock()
	s.supervisor.SetBroker(p)
}
