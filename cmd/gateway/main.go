// Command gateway boots the edge API gateway: it loads and validates
// configuration, constructs every core component in dependency order
// (SecurityLog, S2STokenMinter, ConfigMirror, Guardrails, Forwarder,
// HealthProxy, AuditWAL; RoutePolicy is built by gateway.New), assembles
// the request pipeline, and
// serves until a termination signal triggers graceful shutdown via
// signal.NotifyContext + srv.Shutdown(ctx).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nv/edge-gateway/internal/auditwal"
	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/forwarder"
	"github.com/nv/edge-gateway/internal/gateway"
	"github.com/nv/edge-gateway/internal/guardrail"
	"github.com/nv/edge-gateway/internal/gwconfig"
	"github.com/nv/edge-gateway/internal/health"
	"github.com/nv/edge-gateway/internal/metrics"
	"github.com/nv/edge-gateway/internal/pgstore"
	"github.com/nv/edge-gateway/internal/s2s"
	"github.com/nv/edge-gateway/internal/seclog"
)

func main() {
	logger := slog.Default()

	cfg := gwconfig.Get()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sec := seclog.New()

	minter := s2s.New(s2s.Config{
		Secret:         cfg.S2S.Secret,
		PreviousSecret: cfg.S2S.PreviousSecret,
		RotationGrace:  time.Duration(cfg.S2S.RotationGraceMs) * time.Millisecond,
		Issuer:         cfg.S2S.Issuer,
		Audience:       cfg.S2S.Audience,
		DefaultTTL:     time.Duration(cfg.S2S.TTLSec) * time.Second,
		MaxTTL:         time.Duration(cfg.S2S.MaxTTLSec) * time.Second,
		AllowedIssuers: cfg.S2S.AllowedIssuers,
		AllowedCallers: cfg.S2S.AllowedCallers,
	})

	mirror := configmirror.New(configmirror.Config{
		RegistryBaseURL: cfg.Registry.BaseURL,
		InternalPath:    cfg.Registry.InternalPath,
		LKGPath:         cfg.Registry.LKGPath,
		PollInterval:    time.Duration(cfg.Registry.PollMs) * time.Millisecond,
		ServiceName:     cfg.Identity.ServiceName,
	}, minter)
	mirror.Start(ctx)
	defer mirror.Shutdown()

	if cfg.Registry.GCPProjectID != "" && cfg.Registry.PubSubTopic != "" {
		sub, err := configmirror.NewPubSubHintSubscriber(ctx, cfg.Registry.GCPProjectID, cfg.Registry.PubSubTopic)
		if err != nil {
			logger.Warn("pubsub hint subscription disabled", "error", err)
		} else {
			go sub.Run(ctx, mirror)
			defer sub.Close()
		}
	}

	var jwksClient *guardrail.JWKSClient
	if !cfg.ClientAuth.Bypass {
		jwksClient = guardrail.NewJWKSClient(cfg.ClientAuth.JWKSURL, time.Duration(cfg.ClientAuth.JWKSCacheTTLSec)*time.Second)
	}
	authGate := guardrail.NewClientAuthGate(guardrail.ClientAuthConfig{
		Issuers:            cfg.ClientAuth.Issuers,
		Audience:           cfg.ClientAuth.Audience,
		ClockSkew:          time.Duration(cfg.ClientAuth.ClockSkewSec) * time.Second,
		Bypass:             cfg.ClientAuth.Bypass,
		ReadOnly:           cfg.ClientAuth.ReadOnly,
		PublicPrefixes:     cfg.ClientAuth.PublicPrefixes,
		ProtectedGetPrefix: cfg.ClientAuth.ProtectedGetPrefix,
		ExemptMutatePaths:  cfg.ClientAuth.ExemptMutatePaths,
	}, jwksClient, sec)

	breaker := guardrail.NewBreaker(func(segment string) guardrail.BreakerConfig {
		out := guardrail.BreakerConfig{
			FailureThreshold: cfg.Guardrails.BreakerFailureThreshold,
			HalfOpenAfterMs:  cfg.Guardrails.BreakerHalfOpenAfterMs,
			MinRttMs:         cfg.Guardrails.BreakerMinRttMs,
		}
		sc, ok := mirror.LookupAnyVersion(segment)
		if !ok || sc.Overrides.Breaker == nil {
			return out
		}
		if v := sc.Overrides.Breaker.FailureThreshold; v != 0 {
			out.FailureThreshold = v
		}
		if v := sc.Overrides.Breaker.HalfOpenAfterMs; v != 0 {
			out.HalfOpenAfterMs = v
		}
		if v := sc.Overrides.Breaker.MinRttMs; v != 0 {
			out.MinRttMs = v
		}
		return out
	})

	rateLimiter := guardrail.NewGlobalRateLimiter(guardrail.RateLimitConfig{
		Points:   cfg.Guardrails.RateLimitPoints,
		WindowMs: cfg.Guardrails.RateLimitWindowMs,
	}, sec)

	var counterStore guardrail.CounterStore
	if cfg.Sensitive.StoreURL != "" {
		store, err := guardrail.NewRedisCounterStore(cfg.Sensitive.StoreURL, cfg.Sensitive.StorePass, cfg.Sensitive.StoreDB)
		if err != nil {
			logger.Warn("sensitive limiter redis store unavailable, failing open", "error", err)
		} else {
			counterStore = store
			defer store.Close()
		}
	}
	sensitiveLimiter := guardrail.NewSensitiveLimiter(guardrail.RateLimitConfig{
		Points:   cfg.Sensitive.Max,
		WindowMs: cfg.Sensitive.WindowMs,
	}, cfg.Sensitive.Prefixes, counterStore, sec)

	fwd := forwarder.New(mirror, minter, time.Duration(cfg.Guardrails.DownstreamTimeoutMs)*time.Millisecond, cfg.Identity.ServiceName)

	checker := health.NewChecker(mirror, cfg.Health.RequiredSlugs, time.Duration(cfg.Health.ProbeTimeoutMs)*time.Millisecond)

	sinkURL := cfg.Sink.OverrideURL
	if sinkURL == "" {
		sinkURL = resolveSinkURL(mirror, cfg)
	}
	dispatcher := auditwal.NewHTTPDispatcher(sinkURL, time.Duration(cfg.Sink.TimeoutMs)*time.Millisecond, minter, cfg.Identity.ServiceName)
	wal := auditwal.New(auditwal.Config{
		Dir:           cfg.WAL.Dir,
		FileMaxMB:     cfg.WAL.FileMaxMB,
		RetentionDays: cfg.WAL.RetentionDays,
		RingMaxEvents: cfg.WAL.RingMaxEvents,
		BatchSize:     cfg.WAL.BatchSize,
		FlushInterval: time.Duration(cfg.WAL.FlushMs) * time.Millisecond,
		MaxRetry:      time.Duration(cfg.WAL.MaxRetryMs) * time.Millisecond,
	}, dispatcher, logger)
	if err := wal.Start(ctx); err != nil {
		logger.Error("failed to start audit WAL", "error", err)
		os.Exit(1)
	}
	defer wal.Shutdown()

	if cfg.WAL.PostgresDSN != "" {
		pgCtx, pgCancel := context.WithTimeout(ctx, 5*time.Second)
		store, err := pgstore.Open(pgCtx, cfg.WAL.PostgresDSN)
		pgCancel()
		if err != nil {
			logger.Warn("postgres LKG mirror unavailable, relying on local file LKG only", "error", err)
		} else {
			defer store.Close()
			go mirrorLKGToPostgres(ctx, mirror, store, time.Duration(cfg.Registry.PollMs)*time.Millisecond)
		}
	}

	registry := metrics.New()
	go metrics.RunSampler(ctx, registry, breaker, wal, 5*time.Second)

	rt := gateway.New(gateway.Deps{
		Config:    cfg,
		Mirror:    mirror,
		Forwarder: fwd,
		Checker:   checker,
		WAL:       wal,
		Breaker:   breaker,
		AuthGate:  authGate,
		JWKS:      jwksClient,
		RateLimit: rateLimiter,
		Sensitive: sensitiveLimiter,
		Metrics:   registry,
		Sec:       sec,
		Logger:    logger,
	})

	addr := cfg.Identity.Bind + ":" + cfg.Identity.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           rt.Router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("edge gateway listening", "addr", addr, "env", cfg.Identity.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// mirrorLKGToPostgres periodically copies the ConfigMirror's current
// snapshot into Postgres, for deployments where the local LKG file isn't
// durable across restarts (ephemeral containers). The file-based LKG in
// internal/configmirror remains the primary fallback path; this is a
// shared, cross-instance backstop on top of it.
func mirrorLKGToPostgres(ctx context.Context, mirror *configmirror.Mirror, store *pgstore.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := mirror.Snapshot()
			if snap == nil {
				continue
			}
			if err := store.PutMirrorLKG(ctx, snap); err != nil {
				slog.Default().Warn("failed to mirror LKG snapshot to postgres", "error", err)
			}
		}
	}
}

// resolveSinkURL builds the audit sink's /events URL from the configured
// slug when no override_url is set, resolving it the same way the
// forwarder resolves any other upstream ("Audit sink: PUT
// {sinkBase}/events").
func resolveSinkURL(mirror *configmirror.Mirror, cfg *gwconfig.Config) string {
	sc, ok := mirror.LookupAnyVersion(cfg.Sink.Slug)
	if !ok {
		return ""
	}
	return sc.BaseURL + cfg.Sink.Path
}
