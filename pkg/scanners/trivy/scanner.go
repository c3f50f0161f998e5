package trivy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sentinelops/sentinel/pkg/scanners/toolexec"
)

const (
	// DefaultBinary is the default trivy binary name.
	DefaultBinary = "trivy"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 5 * time.Minute
)

// Scanner runs Trivy against a container image and returns the raw JSON
// report. Safe for concurrent use: each scan writes to its own report file.
type Scanner struct {
	// Binary is the path to the trivy binary (default: "trivy").
	Binary string

	// OutputFile is an absolute path to write the report to. Empty means a
	// unique temporary file per scan, removed after reading.
	OutputFile string

	// Timeout bounds a single scan.
	Timeout time.Duration

	// Verbose enables debug logging.
	Verbose bool
}

// NewScanner creates a Trivy scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Binary:  DefaultBinary,
		Timeout: DefaultTimeout,
	}
}

// Name returns the scanner name.
func (s *Scanner) Name() string {
	return "trivy"
}

// IsInstalled checks if trivy is installed and returns its version.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	return toolexec.CheckInstalled(ctx, s.binary())
}

// ScanImage scans a container image and returns the raw JSON report.
func (s *Scanner) ScanImage(ctx context.Context, image string) ([]byte, error) {
	if image == "" {
		return nil, fmt.Errorf("no target image")
	}

	outputFile := s.OutputFile
	if outputFile == "" {
		f, err := os.CreateTemp("", "trivy-report-*.json")
		if err != nil {
			return nil, fmt.Errorf("create report file: %w", err)
		}
		outputFile = f.Name()
		f.Close()
		defer os.Remove(outputFile)
	}

	if s.Verbose {
		fmt.Printf("[trivy] Scanning image %s\n", image)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	_, err := toolexec.Execute(ctx, &toolexec.Config{
		Binary:      s.binary(),
		Args:        []string{"image", "--format", "json", "--output", outputFile, image},
		Timeout:     timeout,
		OKExitCodes: []int{0, 1},
	})
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("read trivy report: %w", err)
	}

	return data, nil
}

func (s *Scanner) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	return DefaultBinary
}
