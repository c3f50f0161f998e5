// Package toolexec runs external scanner tools. It is a leaf package so the
// individual scanner packages can share it without importing their parent.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Config configures a single tool invocation.
type Config struct {
	// Binary is the tool binary name or path.
	Binary string

	// Args are the command arguments.
	Args []string

	// WorkDir is the working directory for the command.
	WorkDir string

	// Timeout bounds the invocation. Zero means no extra bound beyond ctx.
	Timeout time.Duration

	// OKExitCodes are exit codes treated as success. Most scanners return 1
	// when findings are found.
	OKExitCodes []int

	// Env holds extra environment variables (KEY=VALUE resolved from map).
	Env map[string]string
}

// Result is the outcome of a tool invocation.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	DurationMs int64
}

// ErrBinaryNotFound marks a scanner binary missing from PATH. A stage
// executor fails the stage on this rather than skipping it.
var ErrBinaryNotFound = errors.New("scanner binary not found")

// Execute runs a scanner tool and captures its output. A non-OK exit code is
// an error; exit codes listed in OKExitCodes are returned as success so that
// "findings present" exits do not fail the scan.
func Execute(ctx context.Context, cfg *Config) (*Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", ErrBinaryNotFound, cfg.Binary)
		} else {
			return result, fmt.Errorf("run %s: %w", cfg.Binary, err)
		}
	}

	if !isOKExitCode(result.ExitCode, cfg.OKExitCodes) {
		return result, fmt.Errorf("%s exited with code %d: %s", cfg.Binary, result.ExitCode, stderr.String())
	}

	return result, nil
}

// CheckInstalled reports whether a tool binary is available and returns its
// version string.
func CheckInstalled(ctx context.Context, binary string) (bool, string, error) {
	cmd := exec.CommandContext(ctx, binary, "--version")
	output, err := cmd.Output()
	if err != nil {
		return false, "", fmt.Errorf("%s not found: %w", binary, err)
	}
	return true, string(bytes.TrimSpace(output)), nil
}

func isOKExitCode(code int, ok []int) bool {
	if len(ok) == 0 {
		return code == 0
	}
	for _, c := range ok {
		if code == c {
			return true
		}
	}
	return false
}
