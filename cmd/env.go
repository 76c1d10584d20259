package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/enrich"
	"github.com/tabarnam/enrich-cli/internal/enrich/queue"
	"github.com/tabarnam/enrich-cli/internal/enrich/session"
	"github.com/tabarnam/enrich-cli/internal/monitoring"
	"github.com/tabarnam/enrich-cli/internal/review"
	"github.com/tabarnam/enrich-cli/pkg/xai"
)

// env carries the wired application graph for one command invocation.
type env struct {
	store        *docstore.Client
	orchestrator *enrich.Orchestrator
	resume       *enrich.ResumeStore
	companies    *enrich.CompanyStore
	worker       *enrich.Worker
	sessions     session.Store
	enqueuer     queue.Enqueuer
	redisQueue   *queue.RedisQueue
	collector    *monitoring.Collector
	workerID     string
}

func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Container().Close(); err != nil {
			zap.L().Warn("store close failed", zap.Error(err))
		}
	}
}

func initContainer(ctx context.Context) (docstore.Container, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return docstore.NewSQLite(cfg.Store.SQLitePath, cfg.Store.PartitionKeyPath)
	case "postgres":
		return docstore.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.PartitionKeyPath, nil)
	case "memory":
		return docstore.NewMemory(cfg.Store.PartitionKeyPath, cfg.Store.MemoryCapacity), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	container, err := initContainer(ctx)
	if err != nil {
		return nil, err
	}
	store := docstore.NewClient(container)

	searchClient := xai.NewClient(cfg.XAI.Endpoint, cfg.XAI.Key)
	runner := enrich.NewStageRunner(searchClient, cfg.XAI.Model)

	checker := review.NewChecker(
		review.WithTimeout(cfg.Review.CheckTimeout()),
		review.WithMaxBodyBytes(int64(cfg.Review.MaxBodyBytes)),
	)
	selector := review.NewSelector(review.NewValidator(checker))

	orchestrator := enrich.NewOrchestrator(runner, selector)
	resume := enrich.NewResumeStore(store)
	companies := enrich.NewCompanyStore(store)

	hostname, _ := os.Hostname()
	workerID := hostname + "-" + uuid.NewString()[:8]
	worker := enrich.NewWorker(orchestrator, resume, companies, workerID, cfg.Enrich.CompanyConcurrency)

	collector := monitoring.NewCollector()
	worker.SetObserver(collector)
	runner.SetObserver(collector)

	e := &env{
		store:        store,
		orchestrator: orchestrator,
		resume:       resume,
		companies:    companies,
		worker:       worker,
		sessions:     session.NewMirrorStore(session.NewMemoryStore(0), store),
		collector:    collector,
		workerID:     workerID,
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.redisQueue = queue.NewRedisQueue(rdb, cfg.Redis.QueueKey)
		e.enqueuer = e.redisQueue
	} else {
		// No Redis: resume jobs run on detached in-process goroutines.
		e.enqueuer = queue.NewDetachedEnqueuer(2*time.Minute, func(runCtx context.Context, job queue.Job) {
			e.runResumeJob(runCtx, job)
		})
	}
	return e, nil
}

// runResumeJob executes one queued resume pass.
func (e *env) runResumeJob(ctx context.Context, job queue.Job) {
	report, err := e.worker.ProcessSession(ctx, enrich.SessionRequest{
		SessionID:  job.SessionID,
		CompanyIDs: job.CompanyIDs,
		HardCap:    cfg.Enrich.HardCap(),
	})
	if err != nil {
		if enrich.IsCleanSkip(err) {
			zap.L().Info("resume pass skipped", zap.String("session", job.SessionID), zap.Error(err))
			return
		}
		zap.L().Error("resume pass failed", zap.String("session", job.SessionID), zap.Error(err))
		return
	}
	e.observeReport(report)
	e.recordSessionPass(ctx, report)
	zap.L().Info("resume pass finished",
		zap.String("session", job.SessionID),
		zap.Bool("completed", report.Completed),
		zap.Bool("resume_scheduled", report.ResumeScheduled))

	if report.ResumeScheduled {
		next := queue.Job{
			SessionID:   job.SessionID,
			CompanyIDs:  job.CompanyIDs,
			Reason:      "resume_needed",
			RunAfterMS:  cfg.Enrich.ResumeDelayMS,
			RequestedBy: e.workerID,
		}
		if err := e.enqueuer.Enqueue(ctx, next); err != nil {
			zap.L().Error("resume re-enqueue failed",
				zap.String("session", job.SessionID), zap.Error(err))
		}
	}
}

// recordSessionPass mirrors a pass outcome into the session store so
// status polls see progress.
func (e *env) recordSessionPass(ctx context.Context, report *enrich.SessionReport) {
	status := session.StatusResuming
	switch {
	case report.Completed:
		status = session.StatusComplete
	case !report.ResumeScheduled && len(report.Failed) > 0:
		status = session.StatusFailed
	}
	up := session.Update{
		Status:               session.StatusPtr(status),
		CompaniesSavedDelta:  len(report.Processed) - len(report.Failed),
		FieldsCompletedDelta: report.FieldsCompleted,
		ReviewsVerifiedDelta: report.ReviewsValidated,
		MissingByCompany:     map[string][]string{},
	}
	for _, id := range report.Processed {
		up.MissingByCompany[id] = report.MissingByCompany[id]
	}
	if _, err := e.sessions.Apply(ctx, report.SessionID, up); err != nil {
		zap.L().Warn("session store update failed",
			zap.String("session", report.SessionID), zap.Error(err))
	}
}

// observeReport records session-level outcomes; per-field counters
// land inside the worker as each company finishes.
func (e *env) observeReport(report *enrich.SessionReport) {
	e.collector.ObserveSession(report.Completed)
}

// pingStore verifies the document store answers point reads. A miss
// is healthy; only transport or backend errors count against it.
func pingStore(ctx context.Context, store *docstore.Client) error {
	probe := docstore.Document{"id": "_health_probe", "partition_key": "import"}
	_, err := store.Read(ctx, "_health_probe", probe)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return nil
}
