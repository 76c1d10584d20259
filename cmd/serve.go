package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/enrich"
	"github.com/tabarnam/enrich-cli/internal/enrich/queue"
	"github.com/tabarnam/enrich-cli/internal/enrich/session"
	"github.com/tabarnam/enrich-cli/internal/model"
	"github.com/tabarnam/enrich-cli/internal/monitoring"
	"github.com/tabarnam/enrich-cli/internal/review"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for import requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		mux := newServeMux(e)

		reporter := monitoring.NewReporter(e.collector, monitoring.Thresholds{
			FieldFailureRate: 0.5,
			UpstreamFailures: 50,
		}, 5*time.Minute)
		go reporter.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// errorBody is the uniform error envelope: clients always get a JSON
// shape with a root cause and a retryability verdict, never a bare
// 5xx.
type errorBody struct {
	OK        bool   `json:"ok"`
	RootCause string `json:"root_cause"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, rootCause string, retryable bool, detail string) {
	writeJSON(w, status, errorBody{RootCause: rootCause, Retryable: retryable, Detail: detail})
}

type importCompany struct {
	ID               string `json:"id,omitempty"`
	CompanyName      string `json:"company_name"`
	WebsiteURL       string `json:"website_url"`
	NormalizedDomain string `json:"normalized_domain,omitempty"`
}

type importStartRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	Companies []importCompany `json:"companies"`
	BudgetMS  int64           `json:"budget_ms,omitempty"`
}

type resumeWorkerRequest struct {
	SessionID  string   `json:"session_id"`
	CompanyIDs []string `json:"company_ids,omitempty"`
}

func newServeMux(e *env) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", e.handleHealth)
	mux.HandleFunc("POST /import/start", e.handleImportStart)
	mux.HandleFunc("POST /import/resume-worker", e.handleResumeWorker)
	mux.HandleFunc("GET /import/status/{session}", e.handleImportStatus)
	return mux
}

func (e *env) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	healthy := true
	if err := pingStore(ctx, e.store); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if e.redisQueue != nil {
		checks["redis"] = "ok"
		if err := e.redisQueue.Healthy(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    state,
		"checks":    checks,
		"telemetry": e.collector.Collect(),
	})
}

func (e *env) handleImportStart(w http.ResponseWriter, r *http.Request) {
	var req importStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "client_bad_request", false, "invalid request body")
		return
	}
	if len(req.Companies) == 0 {
		writeError(w, http.StatusBadRequest, "client_bad_request", false, "companies is required")
		return
	}
	for _, c := range req.Companies {
		if strings.TrimSpace(c.CompanyName) == "" || strings.TrimSpace(c.WebsiteURL) == "" {
			writeError(w, http.StatusBadRequest, "client_bad_request", false, "company_name and website_url are required")
			return
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if _, err := e.resume.EnsureLock(ctx, sessionID, model.InvocationDirectHTTP); err != nil {
		if errors.Is(err, enrich.ErrDuplicateInvocation) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"ok":         true,
				"session_id": sessionID,
				"status":     "duplicate_suppressed",
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, "store_write_failed", true, err.Error())
		return
	}

	ids := make([]string, 0, len(req.Companies))
	for _, c := range req.Companies {
		company := companyFromPayload(c)
		if err := e.companies.Save(ctx, company); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_write_failed", true, err.Error())
			return
		}
		ids = append(ids, company.ID)
	}

	if _, err := e.sessions.Apply(ctx, sessionID, session.Update{
		Status:     session.StatusPtr(session.StatusRunning),
		CompanyIDs: ids,
	}); err != nil {
		zap.L().Warn("session store update failed", zap.String("session", sessionID), zap.Error(err))
	}

	// The first pass continues past this response; clients poll the
	// status endpoint for progress.
	hardCap := cfg.Enrich.HardCap()
	if req.BudgetMS > 0 {
		hardCap = time.Duration(req.BudgetMS) * time.Millisecond
	}
	job := queue.Job{SessionID: sessionID, CompanyIDs: ids, Reason: "import_start", RequestedBy: "serve"}
	queue.SpawnDetached(ctx, hardCap+30*time.Second, func(runCtx context.Context) {
		e.runFirstPass(runCtx, job, hardCap)
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":          true,
		"session_id":  sessionID,
		"status":      "accepted",
		"company_ids": ids,
	})
}

// runFirstPass is the synchronous half of /import/start after the 202
// goes out.
func (e *env) runFirstPass(ctx context.Context, job queue.Job, hardCap time.Duration) {
	report, err := e.worker.ProcessSession(ctx, enrich.SessionRequest{
		SessionID:  job.SessionID,
		CompanyIDs: job.CompanyIDs,
		HardCap:    hardCap,
	})
	if err != nil {
		if enrich.IsCleanSkip(err) {
			return
		}
		zap.L().Error("import pass failed", zap.String("session", job.SessionID), zap.Error(err))
		return
	}
	e.observeReport(report)
	e.recordSessionPass(ctx, report)

	if report.ResumeScheduled {
		next := queue.Job{
			SessionID:   job.SessionID,
			CompanyIDs:  job.CompanyIDs,
			Reason:      "resume_needed",
			RunAfterMS:  cfg.Enrich.ResumeDelayMS,
			RequestedBy: e.workerID,
		}
		if err := e.enqueuer.Enqueue(ctx, next); err != nil {
			zap.L().Error("resume enqueue failed", zap.String("session", job.SessionID), zap.Error(err))
		}
	}
}

func (e *env) handleResumeWorker(w http.ResponseWriter, r *http.Request) {
	var req resumeWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "client_bad_request", false, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "client_bad_request", false, "session_id is required")
		return
	}

	report, err := e.worker.ProcessSession(r.Context(), enrich.SessionRequest{
		SessionID:  req.SessionID,
		CompanyIDs: req.CompanyIDs,
		HardCap:    cfg.Enrich.HardCap(),
	})
	if err != nil {
		if enrich.IsCleanSkip(err) {
			writeJSON(w, http.StatusConflict, errorBody{
				RootCause: "locked",
				Retryable: true,
				Detail:    err.Error(),
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, "enrichment_failed", true, err.Error())
		return
	}
	e.observeReport(report)
	e.recordSessionPass(r.Context(), report)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"session_id":         report.SessionID,
		"completed":          report.Completed,
		"resume_scheduled":   report.ResumeScheduled,
		"fields_completed":   report.FieldsCompleted,
		"reviews_validated":  report.ReviewsValidated,
		"missing_by_company": report.MissingByCompany,
		"failed":             report.Failed,
	})
}

func (e *env) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "client_bad_request", false, "session id is required")
		return
	}

	out := map[string]any{"ok": true, "session_id": sessionID}
	found := false

	if snap, err := e.sessions.Get(r.Context(), sessionID); err == nil {
		out["session"] = snap
		found = true
	} else if !errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store_read_failed", true, err.Error())
		return
	}

	if doc, err := e.resume.Get(r.Context(), sessionID); err == nil {
		out["resume"] = doc
		found = true
	} else if !errors.Is(err, docstore.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store_read_failed", true, err.Error())
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, "session_not_found", false, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func companyFromPayload(c importCompany) *model.Company {
	domain := c.NormalizedDomain
	if domain == "" {
		domain = review.HostOf(c.WebsiteURL)
	}
	id := c.ID
	if id == "" {
		id = domain
	}
	return &model.Company{
		ID:               id,
		NormalizedDomain: domain,
		CompanyName:      c.CompanyName,
		WebsiteURL:       c.WebsiteURL,
	}
}
