package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/catalog"
	"github.com/himmiroute/himmi/internal/circuitbreaker"
	"github.com/himmiroute/himmi/internal/cloudauth"
	"github.com/himmiroute/himmi/internal/config"
	"github.com/himmiroute/himmi/internal/pipeline"
	"github.com/himmiroute/himmi/internal/semcache"
	"github.com/himmiroute/himmi/internal/server"
	"github.com/himmiroute/himmi/internal/storage/sqldb"
	"github.com/himmiroute/himmi/internal/telemetry"
	"github.com/himmiroute/himmi/internal/upstream"
	"github.com/himmiroute/himmi/internal/upstream/anthropic"
	"github.com/himmiroute/himmi/internal/upstream/gemini"
	"github.com/himmiroute/himmi/internal/upstream/ollama"
	"github.com/himmiroute/himmi/internal/upstream/openai"
	"github.com/himmiroute/himmi/internal/upstream/simulator"
	"github.com/himmiroute/himmi/internal/vault"
	"github.com/himmiroute/himmi/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting himmi", "version", version, "addr", cfg.Server.Addr)

	// Open database (runs migrations)
	store, err := sqldb.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Seed catalog and optional dev tenant
	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Credential vault
	var vlt *vault.Vault
	if cfg.Vault.Key != "" {
		vlt, err = vault.New(cfg.Vault.Key)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("vault key not set, tenant provider credentials disabled")
	}

	// Semantic cache
	var cache semcache.Cache
	switch {
	case cfg.Cache.RedisURL != "":
		rc, err := semcache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cache = rc
	case cfg.Cache.Memory:
		cache = semcache.NewMemory(1024)
	default:
		cache = semcache.Disabled{}
	}
	defer cache.Close()

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		stopTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer stopTracing(context.Background())
	}

	// Register upstream adapters
	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	// Wire services
	authn, err := auth.New(store)
	if err != nil {
		return err
	}
	resolver, err := catalog.NewResolver(store)
	if err != nil {
		return err
	}

	// Background workers: batched request logging, async stream
	// settlement, shadow-mode evaluation writes.
	logRecorder := worker.NewLogRecorder(store)
	settler := worker.NewSettlementWorker(store, logRecorder, metrics)
	evalWriter := worker.NewEvaluationWriter(store)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := worker.NewRunner(logRecorder, settler, evalWriter).Run(workerCtx); err != nil {
			slog.Error("worker runner failed", "error", err)
		}
	}()

	pipe := pipeline.New(pipeline.Config{
		Auth:        authn,
		Cache:       cache,
		Resolver:    resolver,
		Identity:    store,
		Billing:     store,
		Vault:       vlt,
		Registry:    registry,
		Settler:     settler,
		Breakers:    circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Recorder:    logRecorder,
		Evaluations: evalWriter,
		Metrics:     metrics,
		ShadowModel: cfg.Shadow.ModelSlug(),
	})

	// Create HTTP server
	handler := server.New(server.Deps{
		Pipeline:       pipe,
		Resolver:       resolver,
		Auth:           authn,
		Store:          store,
		Vault:          vlt,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		ReadyCheck:     store.Ping,
		AdminToken:     cfg.Admin.Token,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("himmi ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the listener closes so in-flight logs and
	// settlements drain before the store is gone.
	stopWorkers()
	<-workersDone

	slog.Info("himmi stopped")
	return nil
}

// simulatedProviders covers every canonical name the default catalog can
// route to.
var simulatedProviders = []string{
	"openai", "anthropic", "gemini", "ollama",
	"groq", "deepseek", "xai", "perplexity",
}

// buildRegistry registers one adapter per configured provider, keyed by
// canonical name. Providers speaking the OpenAI wire protocol (Groq,
// Mistral, DeepSeek, xAI, Perplexity) share the openai adapter with
// their own endpoints.
func buildRegistry(ctx context.Context, cfg *config.Config) (*upstream.Registry, error) {
	reg := upstream.NewRegistry()

	if cfg.Simulator.Enabled || os.Getenv("HIMMI_SIMULATOR") == "true" {
		sim := simulator.New(time.Duration(cfg.Simulator.DelayMs) * time.Millisecond)
		for _, name := range simulatedProviders {
			reg.Register(name, sim)
		}
		slog.Warn("simulator enabled, all upstream responses are synthetic")
		return reg, nil
	}

	resolver := &dnscache.Resolver{}
	client := &http.Client{Transport: upstream.NewTransport(resolver, false)}

	for _, p := range cfg.Providers {
		switch p.Name {
		case "openai", "groq", "mistral", "deepseek", "xai", "perplexity":
			reg.Register(p.Name, openai.New(p.Name, p.BaseURL, p.APIKey, client))
		case "anthropic":
			reg.Register(p.Name, anthropic.New(p.Name, p.BaseURL, p.APIKey, client))
		case "bedrock":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.Region))
			if err != nil {
				return nil, fmt.Errorf("bedrock credentials: %w", err)
			}
			signed := &http.Client{Transport: cloudauth.NewAWSSigV4Transport(
				upstream.NewTransport(resolver, false), awsCfg.Credentials, p.Region, "bedrock-runtime",
			)}
			reg.Register(p.Name, anthropic.NewBedrock(p.Name, p.BaseURL, signed))
		case "gemini":
			reg.Register(p.Name, gemini.New(p.Name, p.BaseURL, p.APIKey, client))
		case "vertex":
			tr, err := cloudauth.NewGCPOAuthTransport(ctx,
				upstream.NewTransport(resolver, false),
				"https://www.googleapis.com/auth/cloud-platform",
			)
			if err != nil {
				return nil, fmt.Errorf("vertex credentials: %w", err)
			}
			reg.Register(p.Name, gemini.NewVertex(p.Name, p.BaseURL, &http.Client{Transport: tr}))
		case "ollama":
			reg.Register(p.Name, ollama.New(p.APIKey, p.BaseURL, resolver))
		default:
			slog.Warn("unknown provider, skipping", "name", p.Name)
		}
	}
	if len(reg.List()) == 0 {
		slog.Warn("no upstream providers configured; requests will fail at routing")
	}
	return reg, nil
}
