package bandit

import (
	"encoding/json"
	"fmt"

	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

// Parser converts Bandit JSON output to normalized findings.
type Parser struct{}

// NewParser creates a new Bandit parser.
func NewParser() *Parser {
	return &Parser{}
}

// CanParse checks if this parser can handle the data.
func (p *Parser) CanParse(data []byte) bool {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return false
	}
	return len(report.Results) > 0 || report.GeneratedAt != "" || report.Metrics != nil
}

// Parse converts Bandit JSON output to normalized findings. A nil or empty
// payload yields no findings and no error; malformed JSON is an error the
// normalizer treats as an empty report.
func (p *Parser) Parse(data []byte) ([]findings.Finding, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse bandit output: %w", err)
	}

	return p.Convert(&report), nil
}

// Convert maps an already-decoded report to normalized findings.
func (p *Parser) Convert(report *Report) []findings.Finding {
	if report == nil {
		return nil
	}

	out := make([]findings.Finding, 0, len(report.Results))
	for _, r := range report.Results {
		out = append(out, findings.Finding{
			Source:     findings.SourceCodeAnalysis,
			Identifier: r.TestID,
			Severity:   severity.FromBandit(r.IssueSeverity),
			Title:      r.IssueText,
			Location:   location(r),
			Confidence: r.IssueConfidence,
		})
	}
	return out
}

func location(r Result) string {
	if r.Filename == "" {
		return ""
	}
	if r.LineNumber > 0 {
		return fmt.Sprintf("%s:%d", r.Filename, r.LineNumber)
	}
	return r.Filename
}
