// Package tracker models a security pipeline run: a fixed, ordered sequence
// of stages progressing through their statuses until the run reaches a
// terminal state. The tracker serializes all mutation per run and serves
// point-in-time snapshots to observers; once a run is terminal nothing may
// mutate it again.
package tracker

import (
	"time"

	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// StageStatus is the lifecycle status of a single stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Done reports whether the stage has finished (successfully or not).
func (s StageStatus) Done() bool {
	return s == StageSuccess || s == StageFailed || s == StageSkipped
}

// StageKey identifies a stage of the pipeline.
type StageKey string

const (
	StageClone       StageKey = "clone"
	StageBuild       StageKey = "build"
	StageBanditScan  StageKey = "bandit_scan"
	StageTrivyScan   StageKey = "trivy_scan"
	StagePolicyCheck StageKey = "policy_check"
	StageDecision    StageKey = "decision"
)

// StageOrder is the fixed execution and display order of the pipeline
// stages. Runs hold their stages as an ordered slice in exactly this order,
// so the invariant is structural rather than a map-iteration convention.
var StageOrder = []StageKey{
	StageClone,
	StageBuild,
	StageBanditScan,
	StageTrivyScan,
	StagePolicyCheck,
	StageDecision,
}

// stageNames are the human-readable stage titles.
var stageNames = map[StageKey]string{
	StageClone:       "Clone Repository",
	StageBuild:       "Build Image",
	StageBanditScan:  "Bandit Security Scan",
	StageTrivyScan:   "Trivy Container Scan",
	StagePolicyCheck: "Policy Evaluation",
	StageDecision:    "Deployment Decision",
}

// Stage is one named step of a pipeline run.
type Stage struct {
	Key             StageKey    `json:"key"`
	Name            string      `json:"name"`
	Status          StageStatus `json:"status"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	Logs            string      `json:"logs,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// PipelineRun is one execution instance of the scan-and-decide workflow.
type PipelineRun struct {
	ID            string    `json:"id"`
	RepoName      string    `json:"repo_name"`
	RepoURL       string    `json:"repo_url,omitempty"`
	Branch        string    `json:"branch"`
	CommitSHA     string    `json:"commit_sha"`
	CommitMessage string    `json:"commit_message"`
	Author        string    `json:"author"`
	Trigger       string    `json:"trigger,omitempty"`
	Status        RunStatus `json:"status"`

	TriggeredAt     time.Time  `json:"triggered_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`

	// Stages in execution order (see StageOrder).
	Stages []Stage `json:"stages"`

	// Decision attachment, populated by the decision stage. These are the
	// only durable outputs of a policy evaluation.
	SecurityScore        *int            `json:"security_score,omitempty"`
	Grade                string          `json:"grade,omitempty"`
	VulnerabilitySummary *severity.Count `json:"vulnerability_summary,omitempty"`
	IsDeployable         *bool           `json:"is_deployable,omitempty"`
	Violations           []string        `json:"violations,omitempty"`
}

// Terminal reports whether the run has reached a final state.
func (r *PipelineRun) Terminal() bool {
	return r.Status.Terminal()
}

// Stage returns the stage with the given key, or nil.
func (r *PipelineRun) Stage(key StageKey) *Stage {
	for i := range r.Stages {
		if r.Stages[i].Key == key {
			return &r.Stages[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the run. Observers receive copies so that a
// snapshot can never mutate tracked state.
func (r *PipelineRun) Clone() *PipelineRun {
	out := *r
	out.Stages = make([]Stage, len(r.Stages))
	copy(out.Stages, r.Stages)

	if r.SecurityScore != nil {
		v := *r.SecurityScore
		out.SecurityScore = &v
	}
	if r.IsDeployable != nil {
		v := *r.IsDeployable
		out.IsDeployable = &v
	}
	if r.VulnerabilitySummary != nil {
		v := *r.VulnerabilitySummary
		out.VulnerabilitySummary = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		out.StartedAt = &v
	}
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		out.FinishedAt = &v
	}
	if r.Violations != nil {
		out.Violations = append([]string(nil), r.Violations...)
	}
	for i := range r.Stages {
		if r.Stages[i].StartedAt != nil {
			v := *r.Stages[i].StartedAt
			out.Stages[i].StartedAt = &v
		}
		if r.Stages[i].FinishedAt != nil {
			v := *r.Stages[i].FinishedAt
			out.Stages[i].FinishedAt = &v
		}
	}
	return &out
}

// TriggerRequest describes a pipeline trigger, either manual or from an
// upstream push event.
type TriggerRequest struct {
	RepoURL       string `json:"repo_url"`
	Branch        string `json:"branch"`
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message"`
	Author        string `json:"author"`
	Trigger       string `json:"trigger,omitempty"`

	// TargetDir scans a local directory instead of cloning.
	TargetDir string `json:"target_dir,omitempty"`

	// Image is the container image to scan. Empty means scan the image
	// built from the repository Dockerfile, or skip the container scan
	// when none can be built.
	Image string `json:"image,omitempty"`
}
