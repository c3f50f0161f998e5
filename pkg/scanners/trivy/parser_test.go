package trivy

import (
	"testing"

	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

const sampleReport = `{
  "SchemaVersion": 2,
  "ArtifactName": "python:3.11-slim",
  "ArtifactType": "container_image",
  "Results": [
    {
      "Target": "python:3.11-slim (debian 12.5)",
      "Class": "os-pkgs",
      "Type": "debian",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2024-1234",
          "PkgName": "libssl3",
          "InstalledVersion": "3.0.11",
          "FixedVersion": "3.0.13",
          "Title": "openssl: buffer overflow",
          "Severity": "CRITICAL"
        },
        {
          "VulnerabilityID": "CVE-2023-9999",
          "PkgName": "zlib1g",
          "InstalledVersion": "1.2.13",
          "Severity": "LOW",
          "Description": "zlib minor issue"
        }
      ]
    },
    {
      "Target": "requirements.txt",
      "Class": "lang-pkgs",
      "Type": "pip",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2024-5555",
          "PkgName": "flask",
          "InstalledVersion": "2.0.0",
          "FixedVersion": "2.3.2",
          "Severity": "HIGH",
          "Title": "flask: session disclosure"
        }
      ]
    }
  ]
}`

func TestParser_Parse(t *testing.T) {
	parser := NewParser()

	fs, err := parser.Parse([]byte(sampleReport))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(fs) != 3 {
		t.Fatalf("Parse() returned %d findings, want 3", len(fs))
	}

	first := fs[0]
	if first.Source != findings.SourceContainerScan {
		t.Errorf("Source = %v, want %v", first.Source, findings.SourceContainerScan)
	}
	if first.Identifier != "CVE-2024-1234" {
		t.Errorf("Identifier = %q, want CVE-2024-1234", first.Identifier)
	}
	if first.Severity != severity.Critical {
		t.Errorf("Severity = %v, want %v", first.Severity, severity.Critical)
	}
	if first.Location != "libssl3" {
		t.Errorf("Location = %q, want libssl3", first.Location)
	}
	if !first.FixAvailable {
		t.Error("FixAvailable = false for a vulnerability with FixedVersion")
	}

	second := fs[1]
	if second.FixAvailable {
		t.Error("FixAvailable = true for a vulnerability without FixedVersion")
	}
	if second.Title != "zlib minor issue" {
		t.Errorf("Title = %q, want description fallback", second.Title)
	}

	if fs[2].Severity != severity.High {
		t.Errorf("third finding Severity = %v, want %v", fs[2].Severity, severity.High)
	}
}

func TestParser_ParseEdgeCases(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name      string
		input     []byte
		wantCount int
		wantErr   bool
	}{
		{"nil input yields no findings", nil, 0, false},
		{"empty results", []byte(`{"Results": []}`), 0, false},
		{"null vulnerabilities tolerated", []byte(`{"Results": [{"Target": "x", "Vulnerabilities": null}]}`), 0, false},
		{"missing results key", []byte(`{}`), 0, false},
		{"malformed json is an error", []byte(`{"Results": [`), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := parser.Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(fs) != tt.wantCount {
				t.Errorf("Parse() returned %d findings, want %d", len(fs), tt.wantCount)
			}
		})
	}
}

func TestParser_CanParse(t *testing.T) {
	parser := NewParser()

	if !parser.CanParse([]byte(sampleReport)) {
		t.Error("CanParse() = false for a valid trivy report")
	}
	if parser.CanParse([]byte(`not json`)) {
		t.Error("CanParse() = true for garbage input")
	}
	if parser.CanParse(nil) {
		t.Error("CanParse() = true for nil input")
	}
}

func TestParser_UnknownSeverity(t *testing.T) {
	parser := NewParser()

	input := `{"Results": [{"Target": "x", "Vulnerabilities": [{"VulnerabilityID": "CVE-1", "PkgName": "p", "Severity": "UNKNOWN"}]}]}`
	fs, err := parser.Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(fs) != 1 || fs[0].Severity != severity.Unknown {
		t.Errorf("expected one Unknown finding, got %+v", fs)
	}
}
