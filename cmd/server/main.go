package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/activity"
	"github.com/kiteflow/trader/internal/botconfig"
	"github.com/kiteflow/trader/internal/broker/live"
	"github.com/kiteflow/trader/internal/broker/paper"
	"github.com/kiteflow/trader/internal/catalog"
	"github.com/kiteflow/trader/internal/config"
	"github.com/kiteflow/trader/internal/database"
	"github.com/kiteflow/trader/internal/jobs"
	"github.com/kiteflow/trader/internal/ledger"
	"github.com/kiteflow/trader/internal/scheduler"
	"github.com/kiteflow/trader/internal/server"
	"github.com/kiteflow/trader/internal/session"
	"github.com/kiteflow/trader/internal/supervisor"
	"github.com/kiteflow/trader/internal/vault"
	"github.com/kiteflow/trader/pkg/logger"
)

// Exit codes per the operator-facing CLI contract.
const (
	exitOK            = 0
	exitBadArgs       = 64
	exitBadConfig     = 65
	exitInternalError = 70
	exitAuthFailed    = 77
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: trader <run|check>")
		os.Exit(exitBadArgs)
	}

	switch args[0] {
	case "run":
		os.Exit(runServer())
	case "check":
		os.Exit(runCheck())
	default:
		fmt.Fprintf(os.Stderr, "usage: trader <run|check>\nunknown subcommand %q\n", args[0])
		os.Exit(exitBadArgs)
	}
}

// buildStarter holds every long-lived component the run and check
// subcommands both need constructed before they diverge in behavior.
type buildStarter struct {
	log         zerolog.Logger
	cfg         *config.Config
	db          *database.DB
	vault       *vault.Vault
	catalog     *catalog.Catalog
	acts        *activity.Log
	ledger      *ledger.Repository
	paperBroker *paper.Adapter
	liveBroker  *live.Adapter
	configStore *botconfig.Store
	sessions    *session.Manager
	limiter     *session.Limiter
	supervisor  *supervisor.Supervisor
}

func build() (*buildStarter, int) {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	logger.SetGlobalLogger(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, exitBadConfig
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create data directory")
		return nil, exitBadConfig
	}

	db, err := database.New(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger database")
		return nil, exitInternalError
	}
	if err := db.Migrate(); err != nil {
		log.Error().Err(err).Msg("failed to migrate ledger database")
		return nil, exitInternalError
	}

	catalogOwner := cfg.LiveBrokerName
	if catalogOwner == "" {
		catalogOwner = "paper"
	}
	cat := catalog.New(catalogOwner, cfg.DataDir, log)
	if err := cat.LoadPersisted(); err != nil {
		log.Warn().Err(err).Msg("no persisted instrument catalog yet")
	}

	acts := activity.New(activity.DefaultCapacity, log)
	led := ledger.New(db.Conn(), log)
	configStore := botconfig.NewStore(cfg.DataDir)

	paperBroker := paper.New(1_000_000, log)

	var liveBroker *live.Adapter
	if cfg.LiveBrokerName != "" {
		liveBroker = live.New(live.Config{
			BrokerName: cfg.LiveBrokerName,
			BaseURL:    cfg.LiveBrokerBaseURL,
			LoginURL:   cfg.LiveBrokerLoginURL,
		}, cat, log)
	}

	masterKey := cfg.MasterKey
	if cfg.LiveBrokerName != "" {
		if err := cfg.RequireMasterKey(); err != nil {
			log.Error().Err(err).Msg("master key required for live broker credential storage")
			return nil, exitBadConfig
		}
	} else if masterKey == "" {
		masterKey = "unused-without-live-broker"
	}
	v, err := vault.New(cfg.DataDir, masterKey, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize credential vault")
		return nil, exitInternalError
	}

	sup := supervisor.New(paperBroker, cat, acts, led, log)

	return &buildStarter{
		log:         log,
		cfg:         cfg,
		db:          db,
		vault:       v,
		catalog:     cat,
		acts:        acts,
		ledger:      led,
		paperBroker: paperBroker,
		liveBroker:  liveBroker,
		configStore: configStore,
		sessions:    session.NewManager(session.DefaultIdleTTL),
		limiter:     session.NewLimiter(),
		supervisor:  sup,
	}, exitOK
}

func runServer() int {
	b, code := build()
	if b == nil {
		return code
	}
	defer b.db.Close()

	sched := scheduler.New(b.log)
	sched.Start()
	defer sched.Stop()

	if b.liveBroker != nil {
		if err := sched.AddJob("@every 1h", jobs.NewCatalogRefreshJob(b.liveBroker, b.log)); err != nil {
			b.log.Error().Err(err).Msg("failed to register catalog refresh job")
			return exitInternalError
		}
	}

	var liveBrokerNames []string
	brokerFactory := server.BrokerFactory(func(name string) (*live.Adapter, bool) {
		if b.liveBroker == nil || name != b.cfg.LiveBrokerName {
			return nil, false
		}
		return b.liveBroker, true
	})
	if b.liveBroker != nil {
		liveBrokerNames = []string{b.cfg.LiveBrokerName}
	}

	srv := server.New(server.Config{
		Port:            b.cfg.Port,
		Log:             b.log,
		DevMode:         b.cfg.DevMode,
		Vault:           b.vault,
		Catalog:         b.catalog,
		ConfigStore:     b.configStore,
		Supervisor:      b.supervisor,
		Ledger:          b.ledger,
		Activities:      b.acts,
		Sessions:        b.sessions,
		Limiter:         b.limiter,
		LiveBrokers:     brokerFactory,
		LiveBrokerNames: liveBrokerNames,
		PaperBroker:     b.paperBroker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.supervisor.Run(ctx)

	if saved, err := b.configStore.LoadCurrent(); err == nil {
		if err := b.supervisor.Start(context.Background(), saved); err != nil {
			b.log.Warn().Err(err).Msg("failed to auto-resume persisted bot configuration")
		} else {
			b.log.Info().Msg("resumed trading from persisted configuration")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	b.log.Info().Int("port", b.cfg.Port).Msg("trader server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		b.log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		b.log.Error().Err(err).Msg("http server failed")
		cancel()
		b.supervisor.Shutdown()
		return exitInternalError
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.log.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()
	b.supervisor.Shutdown()
	b.log.Info().Msg("trader server stopped")
	return exitOK
}

// runCheck validates configuration and, when a live broker is configured,
// exercises its credentials without starting the HTTP server or the
// supervisor loop: a fast preflight for deploy pipelines.
func runCheck() int {
	b, code := build()
	if b == nil {
		return code
	}
	defer b.db.Close()

	if b.liveBroker == nil {
		b.log.Info().Msg("configuration valid, no live broker configured")
		return exitOK
	}

	cred, err := b.vault.Load(b.cfg.LiveBrokerName)
	if err != nil {
		b.log.Error().Err(err).Msg("no stored credentials for configured live broker")
		return exitAuthFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := b.liveBroker.Connect(ctx, cred); err != nil {
		b.log.Error().Err(err).Msg("live broker authentication failed")
		return exitAuthFailed
	}
	b.log.Info().Msg("configuration valid, live broker authenticated")
	return exitOK
}
