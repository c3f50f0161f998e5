//go:build linux

package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// WorkspaceDiskCheck checks free space on the scan workspace. Clones and
// image builds land there, so a full disk fails every run.
type WorkspaceDiskCheck struct {
	Path string

	// MinFreePercent is the minimum percentage of free space required.
	MinFreePercent float64
}

func (c *WorkspaceDiskCheck) Name() string { return "workspace_disk" }

func (c *WorkspaceDiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Timestamp: time.Now(),
		Metadata:  make(map[string]any),
	}

	path := c.Path
	if path == "" {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("failed to get disk stats: %v", err)
		return result
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) //nolint:gosec // G115: safe conversion
	freeBytes := stat.Bavail * uint64(stat.Bsize)  //nolint:gosec // G115: safe conversion
	freePercent := float64(freeBytes) / float64(totalBytes) * 100

	result.Metadata["path"] = path
	result.Metadata["total_bytes"] = totalBytes
	result.Metadata["free_bytes"] = freeBytes
	result.Metadata["free_percent"] = fmt.Sprintf("%.2f%%", freePercent)

	if c.MinFreePercent > 0 && freePercent < c.MinFreePercent {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("workspace free space %.2f%% is below threshold %.2f%%", freePercent, c.MinFreePercent)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("workspace has %.2f%% free space", freePercent)
	return result
}
