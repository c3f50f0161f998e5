// Package bandit provides report types, a parser, and an exec runner for the
// Bandit SAST tool.
package bandit

// =============================================================================
// Bandit JSON Output Types
// =============================================================================

// Report represents the top-level Bandit JSON output.
type Report struct {
	GeneratedAt string             `json:"generated_at,omitempty"`
	Results     []Result           `json:"results"`
	Errors      []ScanError        `json:"errors,omitempty"`
	Metrics     map[string]Metrics `json:"metrics,omitempty"`
}

// Result represents a single Bandit finding.
type Result struct {
	TestID          string `json:"test_id"`
	TestName        string `json:"test_name"`
	IssueText       string `json:"issue_text"`
	IssueSeverity   string `json:"issue_severity"`
	IssueConfidence string `json:"issue_confidence"`
	Filename        string `json:"filename"`
	LineNumber      int    `json:"line_number"`
	LineRange       []int  `json:"line_range,omitempty"`
	ColOffset       int    `json:"col_offset,omitempty"`
	Code            string `json:"code,omitempty"`
	IssueCWE        *CWE   `json:"issue_cwe,omitempty"`
	MoreInfo        string `json:"more_info,omitempty"`
}

// CWE identifies the weakness class of a finding.
type CWE struct {
	ID   int    `json:"id"`
	Link string `json:"link,omitempty"`
}

// ScanError represents a file Bandit failed to analyze.
type ScanError struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Metrics holds per-file scan metrics. Bandit keys the metrics map by
// filename plus a "_totals" entry.
type Metrics struct {
	Loc             int     `json:"loc,omitempty"`
	Nosec           int     `json:"nosec,omitempty"`
	ConfidenceHigh  float64 `json:"CONFIDENCE.HIGH,omitempty"`
	SeverityHigh    float64 `json:"SEVERITY.HIGH,omitempty"`
	SeverityMedium  float64 `json:"SEVERITY.MEDIUM,omitempty"`
	SeverityLow     float64 `json:"SEVERITY.LOW,omitempty"`
	SeverityUndef   float64 `json:"SEVERITY.UNDEFINED,omitempty"`
	ConfidenceUndef float64 `json:"CONFIDENCE.UNDEFINED,omitempty"`
}
