// Package findings defines the normalized security finding model shared by
// the scanner parsers, the risk scorer, and the policy engine.
package findings

import "github.com/sentinelops/sentinel/pkg/shared/severity"

// Source identifies which scanner produced a finding.
type Source string

const (
	// SourceCodeAnalysis marks findings from the static code analyzer (Bandit).
	SourceCodeAnalysis Source = "code_analysis"

	// SourceContainerScan marks findings from the container/dependency scanner (Trivy).
	SourceContainerScan Source = "container_scan"
)

// Finding is a single normalized security issue. Immutable once produced by a
// parser: consumers copy, filter, and count findings but never mutate them.
type Finding struct {
	// Source is the scanner that reported the issue.
	Source Source `json:"source"`

	// Identifier is the rule id (Bandit test id) or CVE id (Trivy).
	Identifier string `json:"identifier"`

	// Severity is the normalized severity level.
	Severity severity.Level `json:"severity"`

	// Title is the issue text or vulnerability title.
	Title string `json:"title"`

	// Location is file:line for code findings, package name for
	// container findings.
	Location string `json:"location,omitempty"`

	// FixAvailable reports whether a fixed version is known. Only
	// container findings carry this.
	FixAvailable bool `json:"fix_available,omitempty"`

	// Confidence is the analyzer's confidence in the finding. Preserved as
	// metadata from the code analyzer; it does not affect severity.
	Confidence string `json:"confidence,omitempty"`
}

// FilterBySource returns the findings reported by the given source.
// Sub-scores per source are computed by scoring the filtered set with the
// same algorithm as the full set.
func FilterBySource(fs []Finding, src Source) []Finding {
	out := make([]Finding, 0, len(fs))
	for _, f := range fs {
		if f.Source == src {
			out = append(out, f)
		}
	}
	return out
}

// Summarize tallies the findings by severity level.
func Summarize(fs []Finding) *severity.Count {
	c := &severity.Count{}
	for _, f := range fs {
		c.Increment(f.Severity)
	}
	return c
}

// CountAtLeast returns the number of findings at or above the given level.
func CountAtLeast(fs []Finding, level severity.Level) int {
	n := 0
	for _, f := range fs {
		if f.Severity.IsAtLeast(level) {
			n++
		}
	}
	return n
}
