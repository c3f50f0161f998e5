package trivy

import (
	"encoding/json"
	"fmt"

	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

// Parser converts Trivy JSON output to normalized findings.
type Parser struct{}

// NewParser creates a new Trivy parser.
func NewParser() *Parser {
	return &Parser{}
}

// CanParse checks if this parser can handle the data.
func (p *Parser) CanParse(data []byte) bool {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return false
	}
	return report.SchemaVersion > 0 || report.ArtifactType != "" || len(report.Results) > 0
}

// Parse converts Trivy JSON output to normalized findings. A nil or empty
// payload yields no findings and no error; malformed JSON is an error the
// normalizer treats as an empty report.
func (p *Parser) Parse(data []byte) ([]findings.Finding, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse trivy output: %w", err)
	}

	return p.Convert(&report), nil
}

// Convert maps an already-decoded report to normalized findings. The presence
// of a fixed version implies a fix is available.
func (p *Parser) Convert(report *Report) []findings.Finding {
	if report == nil {
		return nil
	}

	var out []findings.Finding
	for _, result := range report.Results {
		for _, vuln := range result.Vulnerabilities {
			out = append(out, findings.Finding{
				Source:       findings.SourceContainerScan,
				Identifier:   vuln.VulnerabilityID,
				Severity:     severity.FromTrivy(vuln.Severity),
				Title:        title(vuln),
				Location:     vuln.PkgName,
				FixAvailable: vuln.FixedVersion != "",
			})
		}
	}
	return out
}

func title(v Vulnerability) string {
	if v.Title != "" {
		return v.Title
	}
	return v.Description
}
