// Package telemetry records what happens to tasks: OpenTelemetry spans for
// live tracing and an event log of task lifecycle records.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Event is one task lifecycle record.
type Event struct {
	Name      string                 `json:"name"`
	TaskID    string                 `json:"task_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Exporter is the interface for event exporters.
type Exporter interface {
	LogEvent(ev Event)
	Flush() error
	Close() error
}

// NewExporter creates an exporter for protocol "http", "file" or "noop".
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

func stamp(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// --- HTTP Exporter ---

const (
	httpBatchSize = 100
	// httpBacklog caps buffered events while the endpoint is failing;
	// the oldest are dropped first.
	httpBacklog = 10 * httpBatchSize
)

// HTTPExporter posts events in batches as a JSON array. A failed post
// keeps the batch for the next attempt.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu      sync.Mutex
	pending []Event
	dropped int
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

func (e *HTTPExporter) LogEvent(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= httpBacklog {
		// full backlog: wait for an explicit Flush rather than retry per event
		e.pending = append(e.pending[1:], stamp(ev))
		e.dropped++
		return
	}
	e.pending = append(e.pending, stamp(ev))
	if len(e.pending)%httpBatchSize == 0 {
		_ = e.post()
	}
}

// Dropped reports events discarded because the backlog was full.
func (e *HTTPExporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.post()
}

// post sends everything pending. Callers hold e.mu.
func (e *HTTPExporter) post() error {
	if len(e.pending) == 0 {
		return nil
	}
	body, err := json.Marshal(e.pending)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post events: %s", resp.Status)
	}
	e.pending = e.pending[:0]
	return nil
}

func (e *HTTPExporter) Close() error { return e.Flush() }

// --- File Exporter ---

// FileExporter appends one JSON object per line.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileExporter opens path for appending, creating it owner-only since
// events can carry task content.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileExporter{file: f, enc: json.NewEncoder(f)}, nil
}

func (e *FileExporter) LogEvent(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(stamp(ev))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	return errors.Join(e.Flush(), e.file.Close())
}

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

func (NoopExporter) LogEvent(Event) {}
func (NoopExporter) Flush() error   { return nil }
func (NoopExporter) Close() error   { return nil }
