// axiomd is the axiomme server process: it wires the scoped filesystem,
// state store, in-memory index, outbox replay worker, mirror dispatcher,
// retrieval engine, ingest pipeline, session manager, and promotion
// pipeline together behind a small read-only HTTP operability surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/robfig/cron/v3"

	"github.com/axiomme/axiomme/internal/api"
	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/ingest"
	"github.com/axiomme/axiomme/internal/mirror"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/outbox"
	"github.com/axiomme/axiomme/internal/promotion"
	"github.com/axiomme/axiomme/internal/retrieval"
	"github.com/axiomme/axiomme/internal/session"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
)

// persistentScopes are the on-disk scopes that survive restarts and must be
// reindexed into the volatile in-memory index at startup. temp and queue
// are internal-only and never hold indexable content.
var persistentScopes = []uri.Scope{uri.ScopeResources, uri.ScopeUser, uri.ScopeAgent, uri.ScopeSession}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	slog.Info("starting axiomd", "config_dir", *configDir, "root_dir", cfg.RootDir, "http_port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsys, err := fs.New(cfg.RootDir)
	if err != nil {
		log.Fatalf("failed to open scoped filesystem at %s: %v", cfg.RootDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StateDBPath), 0o755); err != nil {
		log.Fatalf("failed to create state db directory: %v", err)
	}
	st, err := store.New(ctx, store.Config{Path: cfg.StateDBPath})
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing state store", "error", err)
		}
	}()

	idx := index.New()

	reconciler := outbox.NewReconciler(fsys, idx, st)
	bootstrapIndex(ctx, reconciler)

	mirrorAdapter := buildMirrorAdapter(cfg.Mirror)
	dispatcher := mirror.NewDispatcher(mirrorAdapter, func(ctx context.Context, op, u string, err error) {
		payload := []byte(fmt.Sprintf(`{"op":%q,"error":%q}`, op, err.Error()))
		if _, enqErr := st.EnqueueOutboxDeadLetter(ctx, models.EventMirrorFailure, u, payload); enqErr != nil {
			slog.Error("failed to dead-letter mirror failure", "uri", u, "error", enqErr)
		}
	})

	worker := outbox.NewWorker(st, idx, dispatcher, cfg.Outbox.PollInterval, cfg.Outbox.ReplayBatchSize)
	worker.Start(ctx)
	defer worker.Stop()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10m", func() { runReconcileTick(ctx, reconciler) }); err != nil {
		log.Fatalf("failed to schedule reconcile tick: %v", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	onRetrievalDeadLetter := func(ctx context.Context, eventType models.OutboxEventType, u string, payload []byte) {
		if _, err := st.EnqueueOutboxDeadLetter(ctx, eventType, u, payload); err != nil {
			slog.Error("failed to enqueue retrieval dead-letter", "uri", u, "error", err)
		}
	}
	retrievalEngine := retrieval.NewEngine(idx, st, fsys, retrieval.Backend(cfg.Retrieval.Backend), onRetrievalDeadLetter)

	// ingestPipeline, sessionManager, and promotionPipeline are driven by the
	// agent runtime that embeds this module (ingest calls, message append,
	// commit, checkpointed promotion), not by this process's own HTTP
	// surface. They are constructed here so axiomd fails fast at startup on
	// any wiring error (bad root dir, bad OM defaults) rather than on first
	// use from the embedder.
	minioClient := buildMinioClient(cfg.Ingest.RemoteStore)
	ingestPipeline := ingest.NewPipeline(fsys, idx, st, minioClient)

	omCfg, err := buildOMConfig(cfg.OM)
	if err != nil {
		log.Fatalf("failed to resolve observational memory defaults: %v", err)
	}
	sessionManager := session.NewManager(fsys, idx, st, omCfg, nil)
	promotionPipeline := promotion.NewPipeline(fsys, idx, st)

	slog.Info("component graph ready",
		"ingest", ingestPipeline != nil,
		"session", sessionManager != nil,
		"promotion", promotionPipeline != nil,
	)

	server := api.NewServer(st, retrievalEngine, worker)
	addr := ":" + strconv.Itoa(cfg.HTTPPort)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}
}

// bootstrapIndex rebuilds the in-memory index from on-disk content across
// every persistent scope. The index is purely in-memory (internal/index),
// so a restart always starts empty; reconcile's detectUnindexed path is
// the same mechanism the periodic reconcile tick uses to repair drift, run
// once eagerly here before the server accepts traffic.
func bootstrapIndex(ctx context.Context, r *outbox.Reconciler) {
	for _, scope := range persistentScopes {
		report, err := r.Run(ctx, uri.Root(scope), false)
		if err != nil {
			slog.Error("startup reconcile failed", "scope", scope, "error", err)
			continue
		}
		slog.Info("startup reconcile complete", "scope", scope, "reindexed", report.Reindexed, "pruned", report.Pruned)
	}
}

func runReconcileTick(ctx context.Context, r *outbox.Reconciler) {
	for _, scope := range persistentScopes {
		if _, err := r.Run(ctx, uri.Root(scope), false); err != nil {
			slog.Error("periodic reconcile failed", "scope", scope, "error", err)
		}
	}
}

func buildMirrorAdapter(cfg config.MirrorConfig) mirror.Adapter {
	if !cfg.Enabled {
		return mirror.NoopAdapter{}
	}
	return mirror.NewHTTPAdapter(cfg.Endpoint, cfg.Collection, cfg.Timeout, cfg.RateLimitPS)
}

// buildMinioClient constructs an optional remote staging client, stripping
// any scheme from the configured endpoint the way an S3-compatible client
// normally tolerates both bare hosts and full URLs.
func buildMinioClient(cfg config.MinioConfig) *minio.Client {
	if !cfg.Enabled {
		return nil
	}
	accessKey := getEnv(cfg.AccessKey, "")
	secretKey := getEnv(cfg.SecretKey, "")
	endpoint, secure := parseMinioEndpoint(cfg.Endpoint, cfg.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		slog.Error("failed to construct remote staging client, ingest will run without it", "error", err)
		return nil
	}
	return client
}

func parseMinioEndpoint(endpoint string, useSSL bool) (string, bool) {
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://"), true
	}
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, useSSL
}

// buildOMConfig translates the flat yaml-facing config.OMDefaults into the
// om package's raw Config, parsing the "disabled" | "abs:<n>" | "ratio:<r>"
// buffer_tokens shorthand.
func buildOMConfig(d config.OMDefaults) (om.ResolvedConfig, error) {
	buffer, err := parseBufferTokens(d.ObservationBufferTokens)
	if err != nil {
		return om.ResolvedConfig{}, err
	}

	raw := om.Config{
		Scope:                       "default",
		ShareTokenBudget:            d.ShareTokenBudget,
		TotalBudget:                 d.TotalTokenBudget,
		ObservationMessageTokens:    d.ObservationMessageTokens,
		ObservationMaxPerBatch:      d.ObservationMaxTokensPerBatch,
		ObservationBufferTokens:     buffer,
		ObservationBufferActivation: d.ObservationBufferActivation,
		ObservationBlockAfter:       d.ObservationBlockAfter,
		ReflectionObservationTokens: d.ReflectionObservationTokens,
		ReflectionBufferActivation:  d.ReflectionBufferActivation,
		ReflectionBlockAfter:        d.ReflectionBlockAfter,
	}
	return om.Resolve(raw)
}

func parseBufferTokens(raw string) (om.BufferTokens, error) {
	switch {
	case raw == "" || raw == "disabled":
		return om.BufferTokens{Kind: om.BufferDisabled}, nil
	case strings.HasPrefix(raw, "abs:"):
		v, err := strconv.ParseFloat(strings.TrimPrefix(raw, "abs:"), 64)
		if err != nil {
			return om.BufferTokens{}, fmt.Errorf("parsing observation_buffer_tokens %q: %w", raw, err)
		}
		return om.BufferTokens{Kind: om.BufferAbsolute, Value: v}, nil
	case strings.HasPrefix(raw, "ratio:"):
		v, err := strconv.ParseFloat(strings.TrimPrefix(raw, "ratio:"), 64)
		if err != nil {
			return om.BufferTokens{}, fmt.Errorf("parsing observation_buffer_tokens %q: %w", raw, err)
		}
		return om.BufferTokens{Kind: om.BufferRatio, Value: v}, nil
	default:
		return om.BufferTokens{}, errors.New("observation_buffer_tokens must be \"disabled\", \"abs:<n>\", or \"ratio:<r>\", got " + raw)
	}
}
