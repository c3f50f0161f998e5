package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	trail := New(&buf)

	if err := trail.Record(EventPipelineTriggered, "admin", "ab12cd34", map[string]string{"repo": "payments"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := trail.Record(EventDeploymentBlocked, "", "ab12cd34", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var events []Event
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventPipelineTriggered || events[0].Actor != "admin" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].Details["repo"] != "payments" {
		t.Errorf("details = %v", events[0].Details)
	}
	if events[1].Type != EventDeploymentBlocked || events[1].RunID != "ab12cd34" {
		t.Errorf("second event = %+v", events[1])
	}
	if events[0].Time.IsZero() || events[1].Time.Before(events[0].Time) {
		t.Errorf("timestamps not monotone: %v, %v", events[0].Time, events[1].Time)
	}
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	trail, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := trail.Record(EventServerStarted, "", "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	trail, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := trail.Record(EventServerStopped, "", "", nil); err != nil {
		t.Fatalf("Record after reopen: %v", err)
	}
	trail.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := bytes.Count(data, []byte("\n"))
	if lines != 2 {
		t.Errorf("trail has %d lines, want 2", lines)
	}
}

func TestConcurrentRecords(t *testing.T) {
	var buf bytes.Buffer
	trail := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = trail.Record(EventLogin, "dev", "", nil)
			}
		}()
	}
	wg.Wait()

	scanner := bufio.NewScanner(&buf)
	count := 0
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("interleaved write corrupted line: %v", err)
		}
		count++
	}
	if count != 200 {
		t.Errorf("events = %d, want 200", count)
	}
}
