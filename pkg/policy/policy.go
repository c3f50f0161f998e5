// Package policy implements the deployment policy document and the
// evaluation engine that turns findings plus a risk assessment into a
// deployment verdict.
package policy

import "time"

// Policy is the administrator-configured threshold document gating
// deployment. It is a singleton per deployment target: created with defaults
// on first access, overwritten whole on update, never deleted.
type Policy struct {
	// MinScore is the minimum acceptable security score.
	MinScore int `json:"min_score" yaml:"min_score"`

	// BlockOnCritical blocks deployment when any critical finding exists.
	BlockOnCritical bool `json:"block_on_critical" yaml:"block_on_critical"`

	// BlockOnHigh gates the high-severity count check. When false an
	// elevated high count is informational, not a violation.
	BlockOnHigh bool `json:"block_on_high" yaml:"block_on_high"`

	// MaxCriticalVulns is the maximum tolerated critical finding count.
	MaxCriticalVulns int `json:"max_critical_vulns" yaml:"max_critical_vulns"`

	// MaxHighVulns is the maximum tolerated high finding count.
	MaxHighVulns int `json:"max_high_vulns" yaml:"max_high_vulns"`

	// AutoBlock makes violations gate deployment. When false the policy is
	// advisory: violations are surfaced but deployment stays allowed and a
	// human approver acts on the report out-of-band.
	AutoBlock bool `json:"auto_block" yaml:"auto_block"`

	// UpdatedAt is when the document was last replaced.
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`

	// UpdatedBy is who last replaced the document.
	UpdatedBy string `json:"updated_by,omitempty" yaml:"-"`
}

// Default returns the documented default policy used whenever no policy
// document exists yet.
func Default() *Policy {
	return &Policy{
		MinScore:         70,
		BlockOnCritical:  true,
		BlockOnHigh:      false,
		MaxCriticalVulns: 0,
		MaxHighVulns:     5,
		AutoBlock:        true,
	}
}

// Validate checks the document invariants before a replace.
func (p *Policy) Validate() error {
	if p.MinScore < 0 || p.MinScore > 100 {
		return errMinScoreRange
	}
	if p.MaxCriticalVulns < 0 {
		return errNegativeCriticalLimit
	}
	if p.MaxHighVulns < 0 {
		return errNegativeHighLimit
	}
	return nil
}
