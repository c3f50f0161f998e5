package policy

import (
	"fmt"

	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/scoring"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

// Evaluation is the outcome of applying a policy to a finding set and its
// risk assessment. Recomputed on demand and never persisted on its own; only
// the verdict attached to a pipeline run is durable.
type Evaluation struct {
	// Score is the security score the policy was applied to.
	Score int `json:"score"`

	// CriticalCount is the number of critical findings.
	CriticalCount int `json:"critical_count"`

	// HighCount is the number of high findings.
	HighCount int `json:"high_count"`

	// DeploymentAllowed is the verdict.
	DeploymentAllowed bool `json:"deployment_allowed"`

	// Violations lists the policy violations in check order.
	Violations []string `json:"violations"`
}

// Evaluate applies a policy to a finding set and its assessment. The check
// order is fixed and determines the violation message order, so the result
// is fully deterministic for identical inputs. Findings with missing
// severities were already normalized to Unknown upstream; evaluation itself
// never fails.
func Evaluate(fs []findings.Finding, assessment scoring.Assessment, pol *Policy) Evaluation {
	if pol == nil {
		pol = Default()
	}

	criticalCount := 0
	highCount := 0
	for _, f := range fs {
		switch f.Severity {
		case severity.Critical:
			criticalCount++
		case severity.High:
			highCount++
		}
	}

	// Never nil: the evaluation serializes straight to API responses and an
	// empty list must encode as [].
	violations := []string{}
	if assessment.SecurityScore < pol.MinScore {
		violations = append(violations,
			fmt.Sprintf("security score below minimum: %d < %d", assessment.SecurityScore, pol.MinScore))
	}
	if pol.BlockOnCritical && criticalCount > 0 {
		violations = append(violations,
			fmt.Sprintf("critical vulnerabilities present: %d", criticalCount))
	}
	if criticalCount > pol.MaxCriticalVulns {
		violations = append(violations,
			fmt.Sprintf("critical vulnerability count exceeds limit: %d > %d", criticalCount, pol.MaxCriticalVulns))
	}
	if pol.BlockOnHigh && highCount > pol.MaxHighVulns {
		violations = append(violations,
			fmt.Sprintf("high vulnerability count exceeds limit: %d > %d", highCount, pol.MaxHighVulns))
	}

	// With AutoBlock off the policy is advisory: violations are reported
	// but never block.
	allowed := len(violations) == 0 || !pol.AutoBlock

	return Evaluation{
		Score:             assessment.SecurityScore,
		CriticalCount:     criticalCount,
		HighCount:         highCount,
		DeploymentAllowed: allowed,
		Violations:        violations,
	}
}
