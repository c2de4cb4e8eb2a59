package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"issuedigger/features/job"
	"issuedigger/features/stats"
	"issuedigger/features/webhook"
	"issuedigger/internal/adapter/gemini"
	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/bookkeeping"
	"issuedigger/internal/config"
	"issuedigger/internal/embedding"
	"issuedigger/internal/entity"
	"issuedigger/internal/keylock"
	"issuedigger/internal/middleware"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
	"issuedigger/internal/worker"
)

// VectorStore is the raw vector index plus the upkeep the app needs from it.
type VectorStore interface {
	vector.Store
	Count(ctx context.Context) (int, error)
	EnsureSchema(ctx context.Context) error
}

// Options replaces external collaborators, mostly for tests.
type Options struct {
	Embedder   embedding.Embedder
	Summarizer embedding.Summarizer
	Hosts      worker.Hosts
	Reactor    webhook.Reactor
}

type App struct {
	Handler   http.Handler
	Submitter *queue.Submitter
	// Consumer is nil unless the worker role is enabled.
	Consumer *worker.Consumer

	cfg     *config.Config
	closers []io.Closer
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	pub queue.Publisher,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg}

	// Storage
	keys := bookkeeping.NewPostgresRepo(db, cfg.BookkeepingPageSize)
	gateway := vector.NewGateway(vecStore, keys)
	jobRepo := job.NewPostgresRepo(db)

	// GitHub
	clients := ghadapter.NewClients(cfg.AppID, []byte(cfg.AppPrivateKey), cfg.AppSlug, ghadapter.WithBaseURL(cfg.GitHubAPIURL))
	hosts := opts.Hosts
	if hosts == nil {
		hosts = worker.HostsFunc(func(installationID int64) (worker.Host, error) {
			c, err := clients.ForInstallation(installationID)
			if err != nil {
				return nil, err
			}
			return c, nil
		})
	}
	reactor := opts.Reactor
	if reactor == nil {
		reactor = clients
	}

	// Queue
	classifier := webhook.NewClassifier(cfg.AppSlug, cfg.AppOwner)
	var backfill *rate.Limiter
	if cfg.BackfillRatePerSecond > 0 {
		backfill = rate.NewLimiter(rate.Limit(cfg.BackfillRatePerSecond), 1)
	}
	a.Submitter = queue.NewSubmitter(pub, config.TopicWork, classifier.IsAppCommand, backfill).
		LimitBodySize(cfg.NSQMaxMsgSize)

	// Worker
	if cfg.EnableWorker {
		embedder, summarizer := opts.Embedder, opts.Summarizer
		if embedder == nil || summarizer == nil {
			client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.SummaryModel)
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			a.closers = append(a.closers, client)
			if embedder == nil {
				embedder = client
			}
			if summarizer == nil {
				summarizer = client
			}
		}

		reducer := embedding.NewReducer(embedder, summarizer, cfg.EmbedConcurrency)
		entities := entity.NewStore(reducer, gateway, keylock.New())
		responder := worker.NewResponder(reducer, gateway, cfg.SimilarIssues)
		dispatcher := worker.NewDispatcher(entities, gateway, hosts, a.Submitter, responder, cfg.OnboardingLookbackLimit)
		a.Consumer = worker.NewConsumer(dispatcher, jobRepo)
	}

	// Features
	webhookHandler := webhook.NewHandler(classifier, a.Submitter, reactor, cfg.WebhookSecret, cfg.MaxWebhookBodyBytes)
	jobHandler := job.NewHandler(job.NewService(jobRepo, pub))
	statsHandler := stats.NewHandler(keys, vecStore, jobRepo)

	// Routes
	mux := http.NewServeMux()

	if cfg.EnableAPI {
		mux.Handle("POST /webhook", middleware.CorrelationID(http.HandlerFunc(webhookHandler.Handle)))
	}

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(http.HandlerFunc(jobHandler.Retry)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, cfg.ProjectURL, http.StatusMovedPermanently)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// Run serves HTTP and, in the worker role, consumes the work topic until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if a.Consumer != nil {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
			slog.Info("consumer stopped")
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort, "api", a.cfg.EnableAPI, "worker", a.cfg.EnableWorker)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = a.cfg.NSQMaxAttempts
	nsqCfg.MaxInFlight = a.cfg.WorkerConcurrency

	consumer, err := nsq.NewConsumer(config.TopicWork, config.ChannelDispatcher, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(a.Consumer, a.cfg.WorkerConcurrency)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return nil, fmt.Errorf("connect to nsqlookupd: %w", err)
	}
	slog.Info("NSQ consumer connected", "topic", config.TopicWork, "channel", config.ChannelDispatcher, "concurrency", a.cfg.WorkerConcurrency)
	return consumer, nil
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close client", "error", err)
		}
	}
}

// nsqLogger routes go-nsq's own log lines into slog.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	slog.Info(s, "component", "nsq")
	return nil
}
