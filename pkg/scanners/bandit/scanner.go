package bandit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sentinelops/sentinel/pkg/scanners/toolexec"
)

const (
	// DefaultBinary is the default bandit binary name.
	DefaultBinary = "bandit"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 3 * time.Minute

	// DefaultExcludes are directories excluded from the scan.
	DefaultExcludes = ".git,node_modules,venv,__pycache__"
)

// Scanner runs Bandit against a source tree and returns the raw JSON report.
// Safe for concurrent use: each scan writes to its own report file.
type Scanner struct {
	// Binary is the path to the bandit binary (default: "bandit").
	Binary string

	// OutputFile is an absolute path to write the report to. Empty means a
	// unique temporary file per scan, removed after reading.
	OutputFile string

	// Timeout bounds a single scan.
	Timeout time.Duration

	// Excludes is the comma-separated exclude list passed to bandit.
	Excludes string

	// Verbose enables debug logging.
	Verbose bool
}

// NewScanner creates a Bandit scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Binary:   DefaultBinary,
		Timeout:  DefaultTimeout,
		Excludes: DefaultExcludes,
	}
}

// Name returns the scanner name.
func (s *Scanner) Name() string {
	return "bandit"
}

// IsInstalled checks if bandit is installed and returns its version.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	return toolexec.CheckInstalled(ctx, s.binary())
}

// Scan runs bandit recursively over targetDir and returns the raw JSON
// report. Bandit exits 1 when issues are found, which is a successful scan.
func (s *Scanner) Scan(ctx context.Context, targetDir string) ([]byte, error) {
	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}

	outputFile := s.OutputFile
	if outputFile == "" {
		f, err := os.CreateTemp("", "bandit-report-*.json")
		if err != nil {
			return nil, fmt.Errorf("create report file: %w", err)
		}
		outputFile = f.Name()
		f.Close()
		defer os.Remove(outputFile)
	}

	args := []string{"-r", absTarget, "-f", "json", "-o", outputFile}
	if s.Excludes != "" {
		args = append(args, "--exclude", s.Excludes)
	}

	if s.Verbose {
		fmt.Printf("[bandit] Scanning %s\n", absTarget)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	_, err = toolexec.Execute(ctx, &toolexec.Config{
		Binary:      s.binary(),
		Args:        args,
		Timeout:     timeout,
		OKExitCodes: []int{0, 1},
	})
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("read bandit report: %w", err)
	}

	return data, nil
}

func (s *Scanner) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	return DefaultBinary
}
