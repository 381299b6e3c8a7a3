// Command server runs the coalition access enforcement service: the resource
// authorization endpoint, the key release broker, and the audit query surface
// behind a single HTTP listener. Wiring only; behavior lives in internal
// packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"accord/internal/audit"
	audithandler "accord/internal/audit/handler"
	"accord/internal/claims"
	claimsmetrics "accord/internal/claims/metrics"
	"accord/internal/decision"
	"accord/internal/enforce"
	enforcehandler "accord/internal/enforce/handler"
	enforcemetrics "accord/internal/enforce/metrics"
	"accord/internal/health"
	"accord/internal/kas"
	kashandler "accord/internal/kas/handler"
	kasmetrics "accord/internal/kas/metrics"
	"accord/internal/pdp"
	pdpmetrics "accord/internal/pdp/metrics"
	"accord/internal/platform/config"
	"accord/internal/platform/httpserver"
	"accord/internal/platform/logger"
	"accord/internal/platform/middleware"
	platformredis "accord/internal/platform/redis"
	"accord/internal/resource"
)

const serviceName = "accord"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("configuration invalid", "error", err.Error())
		os.Exit(1)
	}

	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Token verification: JWKS-backed key cache plus claim validation.
	cm := claimsmetrics.New()
	keystore := claims.NewKeystore(cfg.JWKSURL, cfg.JWKSRefreshInterval, log, cm)
	verifier := claims.NewVerifier(keystore, cfg.Issuer, cfg.Audience, log, cm)

	// Resource registry: Postgres when a DSN is configured, seeded memory
	// otherwise; a Redis cache decorates whichever backs it.
	var registry resource.Store
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		registry = resource.NewPostgres(pool)
	} else {
		log.Warn("no postgres dsn configured, using in-memory resource registry")
		mem := resource.NewInMemoryStore()
		mem.Seed()
		registry = mem
	}
	if cfg.Redis.URL != "" {
		rdb, err := platformredis.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		registry = resource.NewCachedStore(registry, rdb.Client, cfg.Redis.PolicyCacheTTL, log)
	}

	// Audit trail: durable store plus optional Kafka mirror.
	var auditStore audit.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		auditStore = audit.NewPostgres(db)
	} else {
		log.Warn("no postgres dsn configured, audit events are held in memory only")
		auditStore = audit.NewInMemoryStore()
	}

	var mirror *audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		var err error
		mirror, err = audit.NewPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return err
		}
		defer mirror.Close()
	}
	auditor := audit.NewService(auditStore, mirror, log)

	evaluator := pdp.NewHTTPClient(cfg.PDPURL, cfg.PDPTimeout, log, pdpmetrics.New())
	checker := &decision.Checker{ReauthWindow: cfg.ReauthWindow}

	enforceSvc := enforce.New(verifier, registry, evaluator, auditor, checker, log, enforcemetrics.New())

	var kasSvc *kas.Service
	if len(cfg.KEK) > 0 {
		unwrapper, err := kas.NewAESGCMUnwrapper(cfg.KEK)
		if err != nil {
			return err
		}
		kasSvc = kas.New(verifier, registry, evaluator, auditor, checker, unwrapper, log, kasmetrics.New())
	} else {
		log.Warn("no key encryption key configured, key release endpoint disabled")
	}

	router := newRouter(log, enforceSvc, kasSvc, auditor)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return keystore.Run(ctx)
	})

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(
	log *slog.Logger,
	enforceSvc *enforce.Service,
	kasSvc *kas.Service,
	auditor *audit.Service,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Timeout(30 * time.Second))

	health.New(serviceName, version).Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		enforcehandler.New(enforceSvc, log).Register(r)
		if kasSvc != nil {
			kashandler.New(kasSvc, log).Register(r)
		}
	})
	audithandler.New(auditor, log).Register(r)

	return r
}
