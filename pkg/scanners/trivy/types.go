// Package trivy provides report types, a parser, and an exec runner for the
// Trivy container/dependency scanner.
package trivy

// =============================================================================
// Trivy JSON Output Types
// =============================================================================

// Report represents the root Trivy JSON output.
type Report struct {
	SchemaVersion int      `json:"SchemaVersion,omitempty"`
	CreatedAt     string   `json:"CreatedAt,omitempty"`
	ArtifactName  string   `json:"ArtifactName,omitempty"`
	ArtifactType  string   `json:"ArtifactType,omitempty"`
	Results       []Result `json:"Results"`
}

// Result represents a single scan result (per target).
type Result struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class,omitempty"` // os-pkgs, lang-pkgs
	Type            string          `json:"Type,omitempty"`  // alpine, debian, pip, npm, etc.
	Vulnerabilities []Vulnerability `json:"Vulnerabilities,omitempty"`
}

// Vulnerability represents a detected vulnerability.
type Vulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion,omitempty"`
	FixedVersion     string `json:"FixedVersion,omitempty"`
	Title            string `json:"Title,omitempty"`
	Description      string `json:"Description,omitempty"`
	Severity         string `json:"Severity"`
	PrimaryURL       string `json:"PrimaryURL,omitempty"`
}
