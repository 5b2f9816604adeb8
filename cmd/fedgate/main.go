package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fedgate/fedgate/pkg/broker"
	"github.com/fedgate/fedgate/pkg/config"
	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/observability"
	"github.com/fedgate/fedgate/pkg/ratelimit"
	"github.com/fedgate/fedgate/pkg/saml"
	"github.com/fedgate/fedgate/pkg/server"
	"github.com/fedgate/fedgate/pkg/trust"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("service exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trustStore, err := trust.LoadFile(cfg.Federation.TrustFile)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"brokers":           trustStore.Brokers(),
		"service_providers": trustStore.ServiceProviders(),
	}).Info("trust configuration loaded")

	var keys *saml.KeyStore
	if cfg.Federation.CertFile != "" {
		keys, err = saml.LoadKeyStore(cfg.Federation.CertFile, cfg.Federation.KeyFile)
		if err != nil {
			return err
		}
	} else {
		// Issuance fails closed until key material is configured; the
		// broker endpoint still works.
		log.Warn("no signing key configured, response issuance disabled")
	}

	// Session store and relay carrier: redis when configured, otherwise
	// process-local fallbacks for development.
	var (
		redisClient *redis.Client
		sessions    broker.SessionStore
		carrier     saml.RelayCarrier
		sweeper     *cron.Cron
	)
	if cfg.Store.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisURL,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		sessions = broker.NewRedisSessionStore(redisClient)
		carrier = saml.NewRedisRelayCarrier(redisClient)
		log.WithField("addr", cfg.Store.RedisURL).Info("using redis session store")
	} else {
		memStore := broker.NewMemorySessionStore(nil)
		sessions = memStore
		carrier = saml.NewMemoryRelayCarrier()
		log.Warn("no redis configured, using in-memory session store")

		// Redis expires keys server-side; the memory store needs a sweep.
		sweeper = cron.New()
		if _, err := sweeper.AddFunc("* * * * *", func() {
			if removed := memStore.Sweep(); removed > 0 {
				log.WithField("removed", removed).Debug("swept expired sessions")
			}
		}); err != nil {
			return err
		}
		sweeper.Start()
	}

	// Identity backend: postgres when configured, seeded dev users
	// otherwise.
	var (
		db       *sql.DB
		resolver identity.Resolver
	)
	if cfg.Store.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		resolver = identity.NewCachingResolver(
			identity.NewPostgresResolver(db),
			cfg.Broker.IdentityCacheLen,
			cfg.Broker.IdentityCacheTTL,
		)
		log.Info("using postgres identity backend")
	} else {
		resolver = identity.NewSeededResolver()
		log.Warn("no postgres configured, using seeded development users")
	}

	throttle := ratelimit.Config{
		Attempts: cfg.Broker.LoginAttempts,
		Window:   cfg.Broker.LoginWindow,
	}
	var loginLimiter ratelimit.Limiter
	if redisClient != nil {
		loginLimiter = ratelimit.NewRedisLimiter(redisClient, throttle)
	} else {
		loginLimiter = ratelimit.NewMemoryLimiter(throttle, nil)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	builder := saml.NewBuilder(trustStore, keys, carrier, nil, saml.BuilderOptions{
		ForwardRoles:          cfg.Federation.ForwardRoles,
		AllowFallbackIdentity: cfg.Federation.AllowFallbackIdentity,
		DebugRequests:         cfg.Federation.DebugRequests,
	}, log)
	if cfg.Federation.AllowFallbackIdentity {
		log.Warn("fallback identity issuance is enabled")
	}

	app := server.NewServer(server.Options{
		Dispatcher:   broker.NewDispatcher(trustStore, sessions, resolver, cfg.Broker.SessionTTL, log),
		Builder:      builder,
		Carrier:      carrier,
		Resolver:     resolver,
		Sessions:     sessions,
		SessionTTL:   cfg.Broker.SessionTTL,
		LoginLimiter: loginLimiter,
		Metrics:      metrics,
		Log:          log,
	})

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      app,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, func() observability.FederationInfo {
		return observability.FederationInfo{
			Brokers:          trustStore.Brokers(),
			ServiceProviders: trustStore.ServiceProviders(),
			SigningEnabled:   keys != nil,
		}
	})
	observability.RegisterHealthRoutes(healthMux, checker)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", appServer.Addr).Info("starting server")
		if err := appServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("starting health server")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if sweeper != nil {
			<-sweeper.Stop().Done()
		}
		err := appServer.Shutdown(shutdownCtx)
		if herr := healthServer.Shutdown(shutdownCtx); err == nil {
			err = herr
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
