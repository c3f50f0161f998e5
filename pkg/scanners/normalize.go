// Package scanners merges raw scanner reports into one normalized finding
// set. Tool execution lives in the toolexec subpackage; the per-tool report
// shapes and parsers live in the bandit and trivy subpackages.
package scanners

import (
	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/scanners/bandit"
	"github.com/sentinelops/sentinel/pkg/scanners/trivy"
)

// Normalize merges a raw Bandit report and a raw Trivy report into one
// normalized finding set. Either payload may be nil, empty, or malformed;
// such inputs contribute no findings and never produce an error. Findings
// from the two sources are never deduplicated against each other: a code
// finding and a container finding stay distinct entries even when they name
// the same nominal issue.
func Normalize(rawCodeReport, rawContainerReport []byte) []findings.Finding {
	out := make([]findings.Finding, 0)

	if p := bandit.NewParser(); p.CanParse(rawCodeReport) {
		if fs, err := p.Parse(rawCodeReport); err == nil {
			out = append(out, fs...)
		}
	}
	if p := trivy.NewParser(); p.CanParse(rawContainerReport) {
		if fs, err := p.Parse(rawContainerReport); err == nil {
			out = append(out, fs...)
		}
	}

	return out
}
