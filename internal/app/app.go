package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/nsqio/go-nsq"

	"lexio/features/document"
	"lexio/features/stats"
	"lexio/internal/adapter/gemini"
	"lexio/internal/config"
	"lexio/internal/extract"
	"lexio/internal/ingest"
	"lexio/internal/middleware"
	"lexio/internal/progress"
	"lexio/internal/retrieval"
	"lexio/internal/worker"
)

type App struct {
	Handler          http.Handler
	ReingestConsumer *worker.ReingestConsumer
	Embedder         *gemini.Embedder

	cfg *config.Config
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder error: %w", err)
	}

	repo := document.NewPostgresRepo(deps.DB)

	recorder := progress.NewRecorder(
		deps.Pages,
		deps.NSQProducer,
		config.TopicDocumentProgress,
		func(ev progress.Event) ([]byte, error) { return json.Marshal(ev) },
		logger,
	)

	extractor := extract.New(cfg.PageWordWindow)
	scheduler := ingest.NewScheduler(
		embedder, deps.Index,
		cfg.EmbedDimension, cfg.EmbedWindowSize, cfg.VectorFlushSize, cfg.MinEmbedChars,
		logger,
	)
	orchestrator := ingest.NewOrchestrator(
		deps.Blobs, repo, repo, deps.Pages, deps.Index,
		extractor, scheduler, recorder,
		cfg.IngestTimeout(), logger,
	)

	// Feature: Document
	docService := document.NewService(
		repo, orchestrator, deps.Pages, deps.Index, deps.Blobs,
		deps.NSQProducer, cfg.MaxUploadsPerOwner,
	)

	// Feature: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, deps.Index, queryLogger)

	docHandler := document.NewHandler(docService, retrievalService, cfg.MaxUploadSizeMB<<20)

	// Feature: Stats
	statsHandler := stats.NewHandler(repo, deps.Pages, deps.Index)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Upload)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Delete)))
	mux.Handle("GET /documents/{id}/pages", middleware.CorrelationID(enableCORS(docHandler.GetPages)))
	mux.Handle("GET /documents/{id}/logs", middleware.CorrelationID(enableCORS(docHandler.GetLogs)))
	mux.Handle("POST /documents/{id}/reingest", middleware.CorrelationID(enableCORS(docHandler.Reingest)))

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(docHandler.Search)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	reingestConsumer := worker.NewReingestConsumer(repo, deps.Blobs, orchestrator)

	return &App{
		Handler:          mux,
		ReingestConsumer: reingestConsumer,
		Embedder:         embedder,
		cfg:              cfg,
	}, nil
}

// Run serves HTTP and, when enabled, the re-ingestion consumer, until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableReingestWorker {
		consumer, err := a.startReingestConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	if !a.cfg.EnableAPI {
		slog.Info("api disabled, running consumers only")
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) startReingestConsumer() (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(config.TopicDocumentReingest, "ingest", nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.ReingestConsumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return nil, fmt.Errorf("nsq lookupd connect error: %w", err)
	}
	return consumer, nil
}
