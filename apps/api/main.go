package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	echoapi "github.com/trezcool/masomo-portal/apps/api/echo"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/auth/jwtauth"
	emailsvc "github.com/trezcool/masomo-portal/services/email"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
	"github.com/trezcool/masomo-portal/services/metrics"
	"github.com/trezcool/masomo-portal/storage/database"
	dummydb "github.com/trezcool/masomo-portal/storage/database/dummy"
	sqlxrepos "github.com/trezcool/masomo-portal/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up profile backend
	repo, closeDB, err := setUpRepository(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = closeDB(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	cache, err := profile.NewCache(conf.Session.ProfileCacheSize, conf.Session.ProfileCacheTTL)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up profile cache: %v", err), err)
	}
	resolver := profile.NewResolver(
		cache,
		profile.DefaultStrategies(repo),
		profile.WithLogger(logger),
		profile.WithRecorder(collector),
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)

	provider := jwtauth.NewProvider(conf)
	sess := session.New(provider, resolver, session.Options{
		Logger:        logger,
		Recorder:      collector,
		LookupTimeout: conf.Session.LookupTimeout,
	})
	defer func() { _ = sess.Close() }()
	if conf.Session.NotifySignIn {
		sess.OnChange(session.NewSignInNotifier(mailSvc))
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus scrape endpoint.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", metrics.Handler(registry))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Session:    sess,
			Provider:   provider,
			Validate:   validate,
			Translator: translator,
			Throttle:   collector,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpRepository opens the configured profile backend: postgres (migrated on start) or memory.
func setUpRepository(conf *core.Config) (profile.Repository, func() error, error) {
	if conf.Database.Storage != "postgres" {
		db, err := dummydb.Open()
		if err != nil {
			return nil, nil, err
		}
		return dummydb.NewProfileRepository(db), func() error { return nil }, nil
	}

	ctx := context.Background()
	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sqlxrepos.NewProfileRepository(db), db.Close, nil
}
