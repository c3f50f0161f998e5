package bandit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeBandit writes a stub bandit binary that answers --version and writes a
// report unique to its process into the path given with -o.
func fakeBandit(t *testing.T) string {
	t.Helper()

	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "bandit 1.7.9"
  exit 0
fi
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
sleep 0.2
printf '{"results":[{"test_id":"B602","issue_text":"run %s","issue_severity":"HIGH","filename":"a.py","line_number":1}]}' "$$" > "$out"
exit 1
`
	path := filepath.Join(t.TempDir(), "bandit")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestScanReadsReport(t *testing.T) {
	s := NewScanner()
	s.Binary = fakeBandit(t)

	raw, err := s.Scan(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	fs, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(fs) != 1 || fs[0].Identifier != "B602" {
		t.Fatalf("parsed findings = %+v, want one B602", fs)
	}
}

// Two concurrent scans must not share a report file: with a shared path one
// run reads (and removes) the other's output.
func TestConcurrentScansKeepSeparateReports(t *testing.T) {
	s := NewScanner()
	s.Binary = fakeBandit(t)
	target := t.TempDir()

	var wg sync.WaitGroup
	raws := make([][]byte, 2)
	errs := make([]error, 2)
	for i := range raws {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raws[i], errs[i] = s.Scan(context.Background(), target)
		}(i)
	}
	wg.Wait()

	for i := range raws {
		if errs[i] != nil {
			t.Fatalf("scan %d error: %v", i, errs[i])
		}
		if len(raws[i]) == 0 {
			t.Fatalf("scan %d returned an empty report", i)
		}
	}
	// The stub embeds its pid, so reports from distinct invocations differ.
	if string(raws[0]) == string(raws[1]) {
		t.Fatal("concurrent scans returned the same report bytes")
	}
}

func TestScanLeavesExplicitOutputFile(t *testing.T) {
	s := NewScanner()
	s.Binary = fakeBandit(t)
	s.OutputFile = filepath.Join(t.TempDir(), "report.json")

	if _, err := s.Scan(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if _, err := os.Stat(s.OutputFile); err != nil {
		t.Fatalf("explicit report file missing: %v", err)
	}
}

func TestIsInstalled(t *testing.T) {
	s := NewScanner()
	s.Binary = fakeBandit(t)

	ok, version, err := s.IsInstalled(context.Background())
	if err != nil || !ok {
		t.Fatalf("IsInstalled() = (%v, %v), want installed", ok, err)
	}
	if !strings.Contains(version, "1.7.9") {
		t.Errorf("version = %q, want it to contain 1.7.9", version)
	}
}
