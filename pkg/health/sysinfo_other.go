//go:build !linux

package health

import (
	"context"
	"runtime"
	"time"
)

// WorkspaceDiskCheck checks free space on the scan workspace.
// Disk statistics are only collected on Linux; other platforms report
// healthy without metadata.
type WorkspaceDiskCheck struct {
	Path string

	// MinFreePercent is the minimum percentage of free space required.
	MinFreePercent float64
}

func (c *WorkspaceDiskCheck) Name() string { return "workspace_disk" }

func (c *WorkspaceDiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Status:    StatusHealthy,
		Message:   "disk stats not available on " + runtime.GOOS,
		Timestamp: time.Now(),
	}
}
