package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

// ============================================================================
// Configuration
// ============================================================================

// DefaultHistoryLimit caps how many runs the tracker retains.
const DefaultHistoryLimit = 50

// RunStore persists runs across restarts. The tracker writes through on
// every mutation; persistence failures are logged but do not fail the
// in-memory transition.
type RunStore interface {
	SaveRun(ctx context.Context, run *PipelineRun) error
	DeleteRun(ctx context.Context, id string) error
}

// Config configures a Tracker.
type Config struct {
	// Store persists runs. Optional; nil keeps runs in memory only.
	Store RunStore

	// HistoryLimit caps retained runs, oldest evicted first.
	// Defaults to DefaultHistoryLimit.
	HistoryLimit int

	Logger logging.Logger
}

// ============================================================================
// Tracker
// ============================================================================

// Tracker owns the lifecycle state of all pipeline runs. All mutation for a
// run happens under the tracker lock, so two concurrent updates can never
// interleave into an inconsistent stage sequence.
type Tracker struct {
	store  RunStore
	logger logging.Logger
	limit  int

	mu    sync.RWMutex
	runs  map[string]*PipelineRun
	order []string // run IDs, most recent first
}

// New creates a Tracker.
func New(cfg *Config) *Tracker {
	if cfg == nil {
		cfg = &Config{}
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Tracker{
		store:  cfg.Store,
		logger: logging.OrNop(cfg.Logger),
		limit:  limit,
		runs:   make(map[string]*PipelineRun),
	}
}

// Restore seeds the tracker with previously persisted runs, most recent
// first. Non-terminal restored runs are marked failed: the process that was
// executing them is gone.
func (t *Tracker) Restore(runs []*PipelineRun) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range runs {
		if len(t.order) >= t.limit {
			break
		}
		run := r.Clone()
		if !run.Terminal() {
			run.Status = RunFailed
			for i := range run.Stages {
				if !run.Stages[i].Status.Done() {
					run.Stages[i].Status = StageSkipped
				}
			}
		}
		t.runs[run.ID] = run
		t.order = append(t.order, run.ID)
	}
}

// Create registers a new queued run from a trigger request and returns a
// snapshot of it.
func (t *Tracker) Create(ctx context.Context, req TriggerRequest) (*PipelineRun, error) {
	run := newRun(req)

	t.mu.Lock()
	t.runs[run.ID] = run
	t.order = append([]string{run.ID}, t.order...)
	evicted := t.prune()
	snapshot := run.Clone()
	t.mu.Unlock()

	t.logger.Info("[tracker] run %s queued: %s@%s", run.ID, run.RepoName, run.Branch)
	t.persist(ctx, snapshot)
	for _, id := range evicted {
		if t.store != nil {
			if err := t.store.DeleteRun(ctx, id); err != nil {
				t.logger.Warn("[tracker] prune %s: %v", id, err)
			}
		}
	}

	return snapshot, nil
}

// Get returns a snapshot of the run with the given ID.
func (t *Tracker) Get(ctx context.Context, id string) (*PipelineRun, error) {
	const op = "tracker.Get"

	t.mu.RLock()
	run, ok := t.runs[id]
	var snapshot *PipelineRun
	if ok {
		snapshot = run.Clone()
	}
	t.mu.RUnlock()

	if !ok {
		return nil, errors.E(op, errors.KindNotFound, fmt.Sprintf("pipeline run %q not found", id))
	}
	return snapshot, nil
}

// List returns snapshots of retained runs, most recent first. A limit of 0
// or less returns all retained runs.
func (t *Tracker) List(ctx context.Context, limit int) []*PipelineRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*PipelineRun, 0, n)
	for _, id := range t.order[:n] {
		out = append(out, t.runs[id].Clone())
	}
	return out
}

// Start transitions a queued run to running.
func (t *Tracker) Start(ctx context.Context, id string) error {
	const op = "tracker.Start"
	return t.mutate(ctx, op, id, func(run *PipelineRun) error {
		if run.Status != RunQueued {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("run %s is %s, expected %s", id, run.Status, RunQueued))
		}
		now := time.Now().UTC()
		run.Status = RunRunning
		run.StartedAt = &now
		return nil
	})
}

// StartStage transitions a pending stage to running. Every preceding stage
// must already have left pending, so stages can only start in order.
func (t *Tracker) StartStage(ctx context.Context, id string, key StageKey) error {
	const op = "tracker.StartStage"
	return t.mutate(ctx, op, id, func(run *PipelineRun) error {
		stage := run.Stage(key)
		if stage == nil {
			return errors.E(op, errors.KindInvalidInput, fmt.Sprintf("unknown stage %q", key))
		}
		if stage.Status != StagePending {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("stage %s is %s, expected %s", key, stage.Status, StagePending))
		}
		for i := range run.Stages {
			if run.Stages[i].Key == key {
				break
			}
			if run.Stages[i].Status == StagePending || run.Stages[i].Status == StageRunning {
				return errors.E(op, errors.KindConflict,
					fmt.Sprintf("stage %s cannot start before %s finishes", key, run.Stages[i].Key))
			}
		}
		now := time.Now().UTC()
		stage.Status = StageRunning
		stage.StartedAt = &now
		return nil
	})
}

// FinishStage records the outcome of a running stage. Status must be
// success or failed; logs and errMsg are stored verbatim.
func (t *Tracker) FinishStage(ctx context.Context, id string, key StageKey, status StageStatus, logs, errMsg string) error {
	const op = "tracker.FinishStage"
	if status != StageSuccess && status != StageFailed {
		return errors.E(op, errors.KindInvalidInput,
			fmt.Sprintf("invalid finishing status %q", status))
	}
	return t.mutate(ctx, op, id, func(run *PipelineRun) error {
		stage := run.Stage(key)
		if stage == nil {
			return errors.E(op, errors.KindInvalidInput, fmt.Sprintf("unknown stage %q", key))
		}
		if stage.Status != StageRunning {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("stage %s is %s, expected %s", key, stage.Status, StageRunning))
		}
		now := time.Now().UTC()
		stage.Status = status
		stage.FinishedAt = &now
		if stage.StartedAt != nil {
			stage.DurationSeconds = now.Sub(*stage.StartedAt).Seconds()
		}
		stage.Logs = logs
		stage.Error = errMsg
		return nil
	})
}

// SkipStage marks a pending stage as skipped, recording the reason in its
// logs. Skipped stages do not block run success.
func (t *Tracker) SkipStage(ctx context.Context, id string, key StageKey, reason string) error {
	const op = "tracker.SkipStage"
	return t.mutate(ctx, op, id, func(run *PipelineRun) error {
		stage := run.Stage(key)
		if stage == nil {
			return errors.E(op, errors.KindInvalidInput, fmt.Sprintf("unknown stage %q", key))
		}
		if stage.Status != StagePending {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("stage %s is %s, expected %s", key, stage.Status, StagePending))
		}
		stage.Status = StageSkipped
		stage.Logs = reason
		return nil
	})
}

// AttachDecision records the outputs of the deployment decision on the run.
func (t *Tracker) AttachDecision(ctx context.Context, id string, score int, grade string, summary severity.Count, deployable bool, violations []string) error {
	const op = "tracker.AttachDecision"
	return t.mutate(ctx, op, id, func(run *PipelineRun) error {
		run.SecurityScore = &score
		run.Grade = grade
		run.VulnerabilitySummary = &summary
		run.IsDeployable = &deployable
		run.Violations = append([]string{}, violations...)
		return nil
	})
}

// Complete finalizes a running run. The run succeeds only when every stage
// is success or skipped; a failed stage fails the run, and a stage still in
// flight is a sequencing bug reported as a conflict.
func (t *Tracker) Complete(ctx context.Context, id string) error {
	const op = "tracker.Complete"
	var final RunStatus
	err := t.mutate(ctx, op, id, func(run *PipelineRun) error {
		if run.Status != RunRunning {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("run %s is %s, expected %s", id, run.Status, RunRunning))
		}
		status := RunSuccess
		for i := range run.Stages {
			switch run.Stages[i].Status {
			case StageSuccess, StageSkipped:
			case StageFailed:
				status = RunFailed
			default:
				return errors.E(op, errors.KindConflict,
					fmt.Sprintf("stage %s is still %s", run.Stages[i].Key, run.Stages[i].Status))
			}
		}
		finalize(run, status)
		final = status
		return nil
	})
	if err == nil {
		t.logger.Info("[tracker] run %s completed: %s", id, final)
	}
	return err
}

// Fail terminates a run as failed regardless of stage state. Stages that
// never ran are marked skipped.
func (t *Tracker) Fail(ctx context.Context, id string) error {
	const op = "tracker.Fail"
	err := t.mutate(ctx, op, id, func(run *PipelineRun) error {
		skipRemaining(run)
		finalize(run, RunFailed)
		return nil
	})
	if err == nil {
		t.logger.Warn("[tracker] run %s failed", id)
	}
	return err
}

// Cancel terminates a queued or running run. Stages that have not started
// are marked skipped; a stage already running keeps its status as a record
// of where cancellation landed.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	const op = "tracker.Cancel"
	err := t.mutate(ctx, op, id, func(run *PipelineRun) error {
		skipRemaining(run)
		finalize(run, RunCancelled)
		return nil
	})
	if err == nil {
		t.logger.Info("[tracker] run %s cancelled", id)
	}
	return err
}

// ============================================================================
// Internals
// ============================================================================

// mutate applies fn to the run under the tracker lock, rejecting mutation of
// unknown or terminal runs, then persists the new state.
func (t *Tracker) mutate(ctx context.Context, op, id string, fn func(*PipelineRun) error) error {
	t.mu.Lock()
	run, ok := t.runs[id]
	if !ok {
		t.mu.Unlock()
		return errors.E(op, errors.KindNotFound, fmt.Sprintf("pipeline run %q not found", id))
	}
	if run.Terminal() {
		t.mu.Unlock()
		return errors.E(op, errors.KindConflict,
			fmt.Sprintf("run %s is already %s", id, run.Status))
	}
	if err := fn(run); err != nil {
		t.mu.Unlock()
		return err
	}
	snapshot := run.Clone()
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	return nil
}

func (t *Tracker) persist(ctx context.Context, run *PipelineRun) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveRun(ctx, run); err != nil {
		t.logger.Warn("[tracker] persist run %s: %v", run.ID, err)
	}
}

// prune enforces the history cap. Caller holds the lock. Returns evicted IDs.
func (t *Tracker) prune() []string {
	if len(t.order) <= t.limit {
		return nil
	}
	evicted := t.order[t.limit:]
	t.order = t.order[:t.limit]
	for _, id := range evicted {
		delete(t.runs, id)
	}
	return evicted
}

func newRun(req TriggerRequest) *PipelineRun {
	run := &PipelineRun{
		ID:            uuid.NewString()[:8],
		RepoName:      repoName(req.RepoURL, req.TargetDir),
		RepoURL:       req.RepoURL,
		Branch:        req.Branch,
		CommitSHA:     truncate(req.CommitSHA, 7),
		CommitMessage: truncate(req.CommitMessage, 100),
		Author:        req.Author,
		Trigger:       req.Trigger,
		Status:        RunQueued,
		TriggeredAt:   time.Now().UTC(),
		Stages:        make([]Stage, 0, len(StageOrder)),
	}
	if run.Branch == "" {
		run.Branch = "main"
	}
	if run.CommitMessage == "" {
		run.CommitMessage = "Manual trigger"
	}
	if run.Trigger == "" {
		run.Trigger = "manual"
	}
	for _, key := range StageOrder {
		run.Stages = append(run.Stages, Stage{
			Key:    key,
			Name:   stageNames[key],
			Status: StagePending,
		})
	}
	return run
}

func finalize(run *PipelineRun, status RunStatus) {
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationSeconds = now.Sub(*run.StartedAt).Seconds()
	}
}

func skipRemaining(run *PipelineRun) {
	for i := range run.Stages {
		if run.Stages[i].Status == StagePending {
			run.Stages[i].Status = StageSkipped
		}
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// repoName derives a short display name from the repository URL or local
// scan directory.
func repoName(repoURL, targetDir string) string {
	src := repoURL
	if src == "" {
		src = targetDir
	}
	src = strings.TrimSuffix(src, "/")
	src = strings.TrimSuffix(src, ".git")
	if i := strings.LastIndexAny(src, "/:"); i >= 0 {
		src = src[i+1:]
	}
	if src == "" {
		return "local"
	}
	return src
}
