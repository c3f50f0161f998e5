// Package audit records security-relevant events as JSON lines. The trail
// answers who triggered, cancelled, or blocked a deployment and who changed
// the policy; it is append-only and survives restarts.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType identifies an audited action.
type EventType string

const (
	EventLogin             EventType = "login"
	EventAuthFailed        EventType = "auth_failed"
	EventPolicyUpdated     EventType = "policy_updated"
	EventPipelineTriggered EventType = "pipeline_triggered"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineCancelled EventType = "pipeline_cancelled"
	EventDeploymentBlocked EventType = "deployment_blocked"
	EventServerStarted     EventType = "server_started"
	EventServerStopped     EventType = "server_stopped"
)

// Event is one audit record.
type Event struct {
	Time    time.Time         `json:"time"`
	Type    EventType         `json:"type"`
	Actor   string            `json:"actor,omitempty"`
	RunID   string            `json:"run_id,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Trail appends audit events to a writer, one JSON document per line.
// Safe for concurrent use.
type Trail struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	enc *json.Encoder
}

// New creates a trail writing to w.
func New(w io.Writer) *Trail {
	return &Trail{w: w, enc: json.NewEncoder(w)}
}

// Open creates a trail appending to the file at path.
func Open(path string) (*Trail, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	t := New(f)
	t.c = f
	return t, nil
}

// Record appends an event, stamping it with the current time.
func (t *Trail) Record(eventType EventType, actor, runID string, details map[string]string) error {
	event := Event{
		Time:    time.Now().UTC(),
		Type:    eventType,
		Actor:   actor,
		RunID:   runID,
		Details: details,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enc.Encode(&event); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file when the trail owns one.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return t.c.Close()
	}
	return nil
}

// Nop returns a trail that discards all events.
func Nop() *Trail {
	return New(io.Discard)
}
