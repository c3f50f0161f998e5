// Package scoring reduces a set of normalized findings to a single 0-100
// risk score, its complementary security score, and a letter grade.
//
// The risk score is the achieved severity weight as a percentage of the
// maximum possible weight, i.e. the score the finding set would reach if
// every finding were Critical. The algorithm is source-agnostic: per-source
// sub-scores are computed by calling Score with a filtered finding set, never
// with a separate formula.
package scoring

import (
	"math"

	"github.com/sentinelops/sentinel/pkg/findings"
)

// maxWeight is the weight of a Critical finding, the per-finding ceiling of
// the risk denominator.
const maxWeight = 10

// Grade is the letter grade derived from the security score.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
	GradeF     Grade = "F"
)

// Assessment is the result of scoring a finding set. Derived data,
// recomputed on every evaluation; it is never persisted independently of the
// pipeline run it was computed for.
type Assessment struct {
	// RiskScore is the 0-100 aggregate risk ("higher is worse").
	RiskScore int `json:"risk_score"`

	// SecurityScore is 100 - RiskScore ("higher is better"). This is the
	// deployment-facing figure policies threshold against.
	SecurityScore int `json:"security_score"`

	// Grade is the letter grade for SecurityScore.
	Grade Grade `json:"grade"`
}

// Score computes the risk assessment for a finding set. An empty set scores
// zero risk. The denominator is 10 * count(findings); with all weights at or
// below 10 the ratio cannot exceed 100, but the result is clamped anyway.
func Score(fs []findings.Finding) Assessment {
	risk := 0
	if n := len(fs); n > 0 {
		total := 0
		for _, f := range fs {
			total += f.Severity.Weight()
		}
		risk = int(math.Round(float64(total*100) / float64(n*maxWeight)))
		if risk > 100 {
			risk = 100
		}
	}

	security := 100 - risk
	return Assessment{
		RiskScore:     risk,
		SecurityScore: security,
		Grade:         GradeFor(security),
	}
}

// GradeFor maps a security score to its letter grade. Boundaries are
// inclusive on the lower bound of each tier.
func GradeFor(securityScore int) Grade {
	switch {
	case securityScore >= 90:
		return GradeAPlus
	case securityScore >= 80:
		return GradeA
	case securityScore >= 70:
		return GradeB
	case securityScore >= 60:
		return GradeC
	case securityScore >= 50:
		return GradeD
	default:
		return GradeF
	}
}
