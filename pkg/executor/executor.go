// Package executor drives pipeline runs through their stages: clone the
// repository, build the container image, run the Bandit and Trivy scans,
// evaluate the deployment policy, and record the decision. Each run executes
// on its own goroutine; the tracker owns all state transitions, so the
// executor only ever asks for them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/sentinelops/sentinel/pkg/audit"
	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/metrics"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/scanners"
	"github.com/sentinelops/sentinel/pkg/scanners/bandit"
	"github.com/sentinelops/sentinel/pkg/scanners/toolexec"
	"github.com/sentinelops/sentinel/pkg/scanners/trivy"
	"github.com/sentinelops/sentinel/pkg/scm"
	"github.com/sentinelops/sentinel/pkg/scoring"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// Report artifact kinds.
const (
	ReportKindBandit   = "bandit"
	ReportKindTrivy    = "trivy"
	ReportKindDecision = "decision"
)

// ReportSink stores raw report artifacts for later retrieval.
type ReportSink interface {
	SaveReport(ctx context.Context, runID, kind string, data []byte) error
}

// CodeScanner runs a static analysis scan over a source directory and
// returns the raw report.
type CodeScanner interface {
	Scan(ctx context.Context, targetDir string) ([]byte, error)
}

// ImageScanner scans a container image and returns the raw report.
type ImageScanner interface {
	ScanImage(ctx context.Context, image string) ([]byte, error)
}

// Config configures the executor.
type Config struct {
	Tracker  *tracker.Tracker
	Policies *policy.Manager

	// Reports receives raw scanner output and the decision report.
	// Optional.
	Reports ReportSink

	// CodeScanner and ImageScanner default to the bandit and trivy
	// scanners with their default configuration.
	CodeScanner  CodeScanner
	ImageScanner ImageScanner

	// Commits backfills commit message and author for triggers that supply
	// a repository and SHA but no metadata. Optional.
	Commits scm.CommitLookup

	// CloneTimeout bounds the repository clone. Defaults to 2 minutes.
	CloneTimeout time.Duration

	// BuildTimeout bounds the docker build. Defaults to 5 minutes.
	BuildTimeout time.Duration

	// DockerBinary overrides the docker executable. Defaults to "docker".
	DockerBinary string

	Metrics metrics.Collector
	Audit   *audit.Trail
	Logger  logging.Logger
}

// Executor runs pipelines.
type Executor struct {
	tracker  *tracker.Tracker
	policies *policy.Manager
	reports  ReportSink

	codeScanner  CodeScanner
	imageScanner ImageScanner
	commits      scm.CommitLookup

	cloneTimeout time.Duration
	buildTimeout time.Duration
	dockerBinary string

	metrics metrics.Collector
	trail   *audit.Trail
	logger  logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Executor.
func New(cfg *Config) (*Executor, error) {
	if cfg == nil || cfg.Tracker == nil || cfg.Policies == nil {
		return nil, fmt.Errorf("executor: tracker and policy manager are required")
	}

	e := &Executor{
		tracker:      cfg.Tracker,
		policies:     cfg.Policies,
		reports:      cfg.Reports,
		codeScanner:  cfg.CodeScanner,
		imageScanner: cfg.ImageScanner,
		commits:      cfg.Commits,
		cloneTimeout: cfg.CloneTimeout,
		buildTimeout: cfg.BuildTimeout,
		dockerBinary: cfg.DockerBinary,
		metrics:      metrics.OrNop(cfg.Metrics),
		trail:        cfg.Audit,
		logger:       logging.OrNop(cfg.Logger),
		cancels:      make(map[string]context.CancelFunc),
	}
	if e.codeScanner == nil {
		e.codeScanner = bandit.NewScanner()
	}
	if e.imageScanner == nil {
		e.imageScanner = trivy.NewScanner()
	}
	if e.cloneTimeout <= 0 {
		e.cloneTimeout = 2 * time.Minute
	}
	if e.buildTimeout <= 0 {
		e.buildTimeout = 5 * time.Minute
	}
	if e.dockerBinary == "" {
		e.dockerBinary = "docker"
	}
	if e.trail == nil {
		e.trail = audit.Nop()
	}
	return e, nil
}

// Trigger registers a new run and starts executing it in the background.
// Returns a snapshot of the queued run.
func (e *Executor) Trigger(ctx context.Context, actor string, req tracker.TriggerRequest) (*tracker.PipelineRun, error) {
	e.backfillCommit(ctx, &req)

	run, err := e.tracker.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	_ = e.trail.Record(audit.EventPipelineTriggered, actor, run.ID, map[string]string{
		"repo":    run.RepoName,
		"branch":  run.Branch,
		"trigger": run.Trigger,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(runCtx, run.ID, req)

	return run, nil
}

// backfillCommit fills in commit message and author from the SCM provider
// for webhookless triggers that name a repository revision. Lookup failures
// leave the request as submitted.
func (e *Executor) backfillCommit(ctx context.Context, req *tracker.TriggerRequest) {
	if e.commits == nil || req.RepoURL == "" || req.CommitSHA == "" {
		return
	}
	if req.CommitMessage != "" && req.Author != "" {
		return
	}
	fullName := scm.RepoFullName(req.RepoURL)
	if fullName == "" {
		return
	}

	commit, err := e.commits.LookupCommit(ctx, fullName, req.CommitSHA)
	if err != nil {
		e.logger.Debug("[executor] commit lookup %s@%s: %v", fullName, req.CommitSHA, err)
		return
	}
	if req.CommitMessage == "" {
		req.CommitMessage = commit.Message
	}
	if req.Author == "" {
		req.Author = commit.Author
	}
}

// Cancel aborts a queued or running pipeline.
func (e *Executor) Cancel(ctx context.Context, actor, id string) error {
	if err := e.tracker.Cancel(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	_ = e.trail.Record(audit.EventPipelineCancelled, actor, id, nil)
	e.metrics.CounterInc(metrics.PipelineRunsTotal.Name, "status", string(tracker.RunCancelled))
	return nil
}

// Wait blocks until all in-flight runs have finished. Used on shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// execute drives one run to a terminal state.
func (e *Executor) execute(ctx context.Context, id string, req tracker.TriggerRequest) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.cancels[id]; ok {
			cancel()
			delete(e.cancels, id)
		}
		e.mu.Unlock()
	}()

	if err := e.tracker.Start(ctx, id); err != nil {
		e.logger.Warn("[executor] run %s: %v", id, err)
		return
	}
	e.metrics.GaugeInc(metrics.PipelineActiveRuns.Name)
	defer e.metrics.GaugeDec(metrics.PipelineActiveRuns.Name)

	workDir := req.TargetDir
	cleanup := workDir == ""
	if cleanup {
		dir, err := os.MkdirTemp("", "sentinel-scan-")
		if err != nil {
			e.failRun(ctx, id, fmt.Errorf("create workspace: %w", err))
			return
		}
		workDir = dir
		defer os.RemoveAll(dir)
	}

	// Stage 1: clone.
	if req.RepoURL != "" {
		branch := req.Branch
		if branch == "" {
			branch = "main"
		}
		err := e.runStage(ctx, id, tracker.StageClone, func(ctx context.Context) (string, error) {
			if err := e.clone(ctx, req.RepoURL, branch, workDir); err != nil {
				return "", err
			}
			return fmt.Sprintf("Cloned %s successfully", req.RepoURL), nil
		})
		if err != nil {
			e.failRun(ctx, id, err)
			return
		}
	} else {
		if err := e.tracker.SkipStage(ctx, id, tracker.StageClone, "Using local directory"); err != nil {
			e.logger.Warn("[executor] run %s: %v", id, err)
			return
		}
	}

	// Stage 2: build.
	image := req.Image
	if _, err := os.Stat(filepath.Join(workDir, "Dockerfile")); err == nil {
		buildImage := image
		if buildImage == "" {
			buildImage = "sentinel-scan-" + id
		}
		err := e.runStage(ctx, id, tracker.StageBuild, func(ctx context.Context) (string, error) {
			if err := e.buildImage(ctx, workDir, buildImage); err != nil {
				return "", err
			}
			return "Built image: " + buildImage, nil
		})
		if err != nil {
			e.failRun(ctx, id, err)
			return
		}
		image = buildImage
	} else {
		reason := "No Dockerfile found, skipping image build"
		if image != "" {
			reason = "Using provided image: " + image
		}
		if err := e.tracker.SkipStage(ctx, id, tracker.StageBuild, reason); err != nil {
			e.logger.Warn("[executor] run %s: %v", id, err)
			return
		}
	}

	// Stage 3: bandit scan.
	var banditRaw []byte
	err := e.runStage(ctx, id, tracker.StageBanditScan, func(ctx context.Context) (string, error) {
		raw, err := e.codeScanner.Scan(ctx, workDir)
		if err != nil {
			return "", err
		}
		banditRaw = raw
		e.saveReport(ctx, id, ReportKindBandit, raw)
		return "Bandit scan completed", nil
	})
	if err != nil {
		e.failRun(ctx, id, err)
		return
	}

	// Stage 4: trivy scan. Runs with no image are code-only; the
	// container scan is skipped rather than failed.
	var trivyRaw []byte
	if image == "" {
		if err := e.tracker.SkipStage(ctx, id, tracker.StageTrivyScan, "No container image to scan"); err != nil {
			e.logger.Warn("[executor] run %s: %v", id, err)
			return
		}
	} else {
		err := e.runStage(ctx, id, tracker.StageTrivyScan, func(ctx context.Context) (string, error) {
			raw, err := e.imageScanner.ScanImage(ctx, image)
			if err != nil {
				return "", err
			}
			trivyRaw = raw
			e.saveReport(ctx, id, ReportKindTrivy, raw)
			return "Trivy scan completed for " + image, nil
		})
		if err != nil {
			e.failRun(ctx, id, err)
			return
		}
	}

	// Stage 5: policy check. Normalizes the raw reports and computes the
	// assessment.
	var (
		fs         []findings.Finding
		assessment scoring.Assessment
		summary    *severity.Count
	)
	err = e.runStage(ctx, id, tracker.StagePolicyCheck, func(ctx context.Context) (string, error) {
		fs = scanners.Normalize(banditRaw, trivyRaw)
		assessment = scoring.Score(fs)
		summary = findings.Summarize(fs)

		for _, f := range fs {
			e.metrics.CounterInc(metrics.FindingsTotal.Name,
				"source", string(f.Source), "severity", string(f.Severity))
		}
		e.metrics.GaugeSet(metrics.SecurityScore.Name, float64(assessment.SecurityScore))

		return fmt.Sprintf("Security Score: %d/100", assessment.SecurityScore), nil
	})
	if err != nil {
		e.failRun(ctx, id, err)
		return
	}

	// Stage 6: decision.
	err = e.runStage(ctx, id, tracker.StageDecision, func(ctx context.Context) (string, error) {
		pol, err := e.policies.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("load policy: %w", err)
		}
		eval := policy.Evaluate(fs, assessment, pol)

		if err := e.tracker.AttachDecision(ctx, id, assessment.SecurityScore,
			string(assessment.Grade), *summary, eval.DeploymentAllowed, eval.Violations); err != nil {
			return "", err
		}

		e.writeDecisionReport(ctx, id, assessment, summary, eval)
		e.metrics.CounterInc(metrics.PolicyEvaluationsTotal.Name,
			"allowed", fmt.Sprintf("%t", eval.DeploymentAllowed))

		if !eval.DeploymentAllowed {
			_ = e.trail.Record(audit.EventDeploymentBlocked, "", id, map[string]string{
				"score":      fmt.Sprintf("%d", assessment.SecurityScore),
				"violations": fmt.Sprintf("%d", len(eval.Violations)),
			})
			return "BLOCKED - Security requirements not met", nil
		}
		return "APPROVED for deployment", nil
	})
	if err != nil {
		e.failRun(ctx, id, err)
		return
	}

	if err := e.tracker.Complete(ctx, id); err != nil {
		e.logger.Warn("[executor] run %s: %v", id, err)
		return
	}
	_ = e.trail.Record(audit.EventPipelineCompleted, "", id, nil)
	e.metrics.CounterInc(metrics.PipelineRunsTotal.Name, "status", string(tracker.RunSuccess))
}

// runStage starts the stage, runs fn, and records the outcome. A stage
// error is returned after it has been recorded; a tracker error (the run
// was cancelled underneath us) aborts immediately.
func (e *Executor) runStage(ctx context.Context, id string, key tracker.StageKey, fn func(ctx context.Context) (string, error)) error {
	if err := e.tracker.StartStage(ctx, id, key); err != nil {
		return err
	}

	timer := time.Now()
	logs, err := fn(ctx)

	status := tracker.StageSuccess
	errMsg := ""
	if err != nil {
		status = tracker.StageFailed
		errMsg = err.Error()
		e.logger.Warn("[executor] run %s stage %s: %v", id, key, err)
	}
	e.metrics.HistogramObserve(metrics.StageDuration.Name, time.Since(timer).Seconds(),
		"stage", string(key), "status", string(status))

	if finishErr := e.tracker.FinishStage(ctx, id, key, status, logs, errMsg); finishErr != nil {
		return finishErr
	}
	return err
}

// failRun finalizes a run after a stage error. Cancellation races are
// expected: the tracker rejects mutation of terminal runs and that is fine.
func (e *Executor) failRun(ctx context.Context, id string, cause error) {
	e.logger.Warn("[executor] run %s failed: %v", id, cause)
	if err := e.tracker.Fail(ctx, id); err != nil {
		return
	}
	e.metrics.CounterInc(metrics.PipelineRunsTotal.Name, "status", string(tracker.RunFailed))
}

func (e *Executor) clone(ctx context.Context, repoURL, branch, workDir string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cloneTimeout)
	defer cancel()

	_, err := git.PlainCloneContext(ctx, workDir, false, &git.CloneOptions{
		URL:           repoURL,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return nil
}

func (e *Executor) buildImage(ctx context.Context, workDir, image string) error {
	_, err := toolexec.Execute(ctx, &toolexec.Config{
		Binary:  e.dockerBinary,
		Args:    []string{"build", "-t", image, workDir},
		Timeout: e.buildTimeout,
	})
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	return nil
}

func (e *Executor) saveReport(ctx context.Context, id, kind string, data []byte) {
	if e.reports == nil {
		return
	}
	if err := e.reports.SaveReport(ctx, id, kind, data); err != nil {
		e.logger.Warn("[executor] save %s report for run %s: %v", kind, id, err)
	}
}

// DecisionReport is the durable record of a deployment decision.
type DecisionReport struct {
	PipelineID           string         `json:"pipeline_id"`
	Timestamp            time.Time      `json:"timestamp"`
	Repository           string         `json:"repository"`
	Branch               string         `json:"branch"`
	Commit               string         `json:"commit"`
	SecurityScore        int            `json:"security_score"`
	Grade                string         `json:"grade"`
	IsDeployable         bool           `json:"is_deployable"`
	VulnerabilitySummary severity.Count `json:"vulnerability_summary"`
	Decision             string         `json:"decision"`
	Reasons              []string       `json:"reasons"`
}

func (e *Executor) writeDecisionReport(ctx context.Context, id string, assessment scoring.Assessment, summary *severity.Count, eval policy.Evaluation) {
	run, err := e.tracker.Get(ctx, id)
	if err != nil {
		e.logger.Warn("[executor] decision report for run %s: %v", id, err)
		return
	}

	decision := "APPROVED"
	if !eval.DeploymentAllowed {
		decision = "BLOCKED"
	}
	report := DecisionReport{
		PipelineID:           id,
		Timestamp:            time.Now().UTC(),
		Repository:           run.RepoName,
		Branch:               run.Branch,
		Commit:               run.CommitSHA,
		SecurityScore:        assessment.SecurityScore,
		Grade:                string(assessment.Grade),
		IsDeployable:         eval.DeploymentAllowed,
		VulnerabilitySummary: *summary,
		Decision:             decision,
		Reasons:              eval.Violations,
	}

	data, err := json.MarshalIndent(&report, "", "  ")
	if err != nil {
		e.logger.Warn("[executor] encode decision report for run %s: %v", id, err)
		return
	}
	e.saveReport(ctx, id, ReportKindDecision, data)
}
