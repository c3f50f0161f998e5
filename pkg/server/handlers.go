package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelops/sentinel/pkg/audit"
	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/scanners"
	"github.com/sentinelops/sentinel/pkg/scoring"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// Report kinds served by the raw report endpoints.
const (
	reportKindBandit = "bandit"
	reportKindTrivy  = "trivy"
)

// maxBodyBytes bounds request bodies. Webhook payloads are the largest
// legitimate input.
const maxBodyBytes = 1 << 20

// ============================================================================
// Responses
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("[server] encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.GetKind(err)
	status := kind.HTTPStatus()
	if status >= 500 {
		s.logger.Warn("[server] %s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(r *http.Request, v any) error {
	const op = "server.decode"

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.E(op, errors.KindInvalidInput, err)
	}
	return nil
}

// ============================================================================
// Auth
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		s.auditAuthFailure(req.Username)
		s.writeError(w, r, err)
		return
	}

	token, expiresAt, err := s.auth.IssueToken(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	_ = s.trail.Record(audit.EventLogin, id.Subject, "", map[string]string{"role": string(id.Role)})
	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      string(id.Role),
	})
}

// ============================================================================
// Summary and raw reports
// ============================================================================

type sourceSummary struct {
	Assessment scoring.Assessment `json:"assessment"`
	Summary    severity.Count     `json:"summary"`
}

type summaryResponse struct {
	RunID       string                   `json:"run_id,omitempty"`
	Repo        string                   `json:"repo,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
	Assessment  scoring.Assessment       `json:"assessment"`
	Summary     severity.Count           `json:"summary"`
	Sources     map[string]sourceSummary `json:"sources"`
}

// latestDecidedRun returns the most recent run that reached a decision, or
// nil when none has.
func (s *Server) latestDecidedRun(r *http.Request) *tracker.PipelineRun {
	for _, run := range s.tracker.List(r.Context(), 0) {
		if run.SecurityScore != nil {
			return run
		}
	}
	return nil
}

// latestFindings re-normalizes the stored reports of the latest decided
// run. Without a report source or a decided run it returns an empty set.
func (s *Server) latestFindings(r *http.Request, run *tracker.PipelineRun) []findings.Finding {
	if run == nil || s.reports == nil {
		return nil
	}

	var banditRaw, trivyRaw []byte
	if data, err := s.reports.GetReport(r.Context(), run.ID, reportKindBandit); err == nil {
		banditRaw = data
	}
	if data, err := s.reports.GetReport(r.Context(), run.ID, reportKindTrivy); err == nil {
		trivyRaw = data
	}
	return scanners.Normalize(banditRaw, trivyRaw)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	run := s.latestDecidedRun(r)
	fs := s.latestFindings(r, run)

	resp := summaryResponse{
		GeneratedAt: time.Now().UTC(),
		Assessment:  scoring.Score(fs),
		Summary:     *findings.Summarize(fs),
		Sources:     make(map[string]sourceSummary, 2),
	}
	if run != nil {
		resp.RunID = run.ID
		resp.Repo = run.RepoName
	}
	for _, src := range []findings.Source{findings.SourceCodeAnalysis, findings.SourceContainerScan} {
		sub := findings.FilterBySource(fs, src)
		resp.Sources[string(src)] = sourceSummary{
			Assessment: scoring.Score(sub),
			Summary:    *findings.Summarize(sub),
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleReport"

	kind := chi.URLParam(r, "kind")
	if kind != reportKindBandit && kind != reportKindTrivy {
		s.writeError(w, r, errors.E(op, errors.KindInvalidInput, "unknown report kind: "+kind))
		return
	}
	if s.reports == nil {
		s.writeError(w, r, errors.E(op, errors.KindNotFound, "report storage not configured"))
		return
	}

	run := s.latestDecidedRun(r)
	if run == nil {
		s.writeError(w, r, errors.E(op, errors.KindNotFound, "no completed scan available"))
		return
	}

	data, err := s.reports.GetReport(r.Context(), run.ID, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ============================================================================
// Policy
// ============================================================================

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	pol, err := s.policies.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pol)
}

func (s *Server) handlePolicyPut(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var pol policy.Policy
	if err := s.decode(r, &pol); err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.policies.Update(r.Context(), id, &pol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	_ = s.trail.Record(audit.EventPolicyUpdated, id.Subject, "", map[string]string{
		"min_score": strconv.Itoa(updated.MinScore),
	})
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePolicyEvaluate(w http.ResponseWriter, r *http.Request) {
	pol, err := s.policies.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	run := s.latestDecidedRun(r)
	fs := s.latestFindings(r, run)
	eval := policy.Evaluate(fs, scoring.Score(fs), pol)
	s.writeJSON(w, http.StatusOK, eval)
}

// ============================================================================
// Pipelines
// ============================================================================

func (s *Server) handlePipelineList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, errors.E("server.handlePipelineList", errors.KindInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pipelines": s.tracker.List(r.Context(), limit),
	})
}

func (s *Server) handlePipelineGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleTrigger"

	var req tracker.TriggerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RepoURL == "" && req.TargetDir == "" {
		s.writeError(w, r, errors.E(op, errors.KindInvalidInput, "repo_url or target_dir is required"))
		return
	}

	id, _ := identityFrom(r.Context())
	run, err := s.pipelines.Trigger(r.Context(), id.Subject, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	runID := chi.URLParam(r, "id")

	if err := s.pipelines.Cancel(r.Context(), id.Subject, runID); err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.tracker.Get(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// ============================================================================
// Webhooks
// ============================================================================

// handleWebhook turns a validated SCM push into a pipeline trigger.
// Deliveries the parser recognizes but does not act on (pings, tag pushes)
// are acknowledged without a trigger.
func (s *Server) handleWebhook(parser PushParser, provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "server.handleWebhook"

		if parser == nil {
			s.writeError(w, r, errors.E(op, errors.KindNotFound, provider+" webhook not configured"))
			return
		}

		event, err := parser.ParsePush(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if event == nil {
			s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}

		run, err := s.pipelines.Trigger(r.Context(), "webhook:"+provider, tracker.TriggerRequest{
			RepoURL:       event.RepoURL,
			Branch:        event.Branch,
			CommitSHA:     event.CommitSHA,
			CommitMessage: event.CommitMessage,
			Author:        event.Author,
			Trigger:       provider + "_push",
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":      "triggered",
			"pipeline_id": run.ID,
		})
	}
}
