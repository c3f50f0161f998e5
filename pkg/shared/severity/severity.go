// Package severity provides the unified severity level used for security
// findings across the SentinelOps server.
//
// Each scanner source speaks its own severity vocabulary. Bandit (SAST) knows
// HIGH/MEDIUM/LOW and has no critical tier; Trivy (container/dependency scan)
// knows CRITICAL/HIGH/MEDIUM/LOW/UNKNOWN. Both map onto the single ordered
// enumeration defined here, and risk scoring weighs levels through the fixed
// weight table below.
package severity

import "strings"

// Level represents a severity level for security findings.
type Level string

const (
	// Critical - Immediate action required. Blocks deployment under the
	// default policy.
	Critical Level = "critical"

	// High - Serious issue that should be addressed urgently.
	High Level = "high"

	// Medium - Moderate risk, address in the normal development cycle.
	Medium Level = "medium"

	// Low - Minor issue, address when convenient.
	Low Level = "low"

	// Unknown - Severity could not be determined. Weighted like Low for
	// scoring but displayed distinctly.
	Unknown Level = "unknown"
)

// AllLevels returns all severity levels in order of priority (highest first).
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low, Unknown}
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric priority of the severity level.
// Higher numbers = higher priority.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// Weight returns the risk weight of the level used by the scorer.
// Unknown weighs the same as Low.
func (l Level) Weight() int {
	switch l {
	case Critical:
		return 10
	case High:
		return 7
	case Medium:
		return 4
	default:
		return 1
	}
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast returns true if this severity is at least as high as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// FromBandit maps a Bandit issue severity onto a Level. Bandit has no
// critical tier: its HIGH maps to High, never Critical. Unrecognized or
// missing values resolve to Unknown.
func FromBandit(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return High
	case "MEDIUM":
		return Medium
	case "LOW":
		return Low
	default:
		return Unknown
	}
}

// FromTrivy maps a Trivy vulnerability severity onto a Level. The shared
// label set maps by identity; UNKNOWN and anything unrecognized resolve to
// Unknown.
func FromTrivy(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical
	case "HIGH":
		return High
	case "MEDIUM":
		return Medium
	case "LOW":
		return Low
	default:
		return Unknown
	}
}

// Compare returns:
//
//	-1 if a < b (a is lower severity)
//	 0 if a == b
//	+1 if a > b (a is higher severity)
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Max returns the higher severity of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// Count tallies findings by severity level. It is the vulnerability summary
// attached to a pipeline run after the decision stage.
type Count struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Increment increases the count for the given severity.
func (c *Count) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	default:
		c.Unknown++
	}
}

// Highest returns the highest severity level that has a non-zero count.
func (c *Count) Highest() Level {
	if c.Critical > 0 {
		return Critical
	}
	if c.High > 0 {
		return High
	}
	if c.Medium > 0 {
		return Medium
	}
	if c.Low > 0 {
		return Low
	}
	return Unknown
}
