// Package telemetry provides event export and distributed tracing for the
// ecosystem.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// batchSize is how many records the HTTP exporter buffers before posting.
const batchSize = 100

// Exporter receives coordination events and delivery outcomes.
type Exporter interface {
	// LogEvent records a named event.
	LogEvent(name string, data map[string]interface{})

	// LogDelivery records one routed envelope.
	LogDelivery(d Delivery)

	// Flush pushes buffered records out.
	Flush() error

	// Close flushes and releases the exporter.
	Close() error
}

// Delivery describes one routed envelope for telemetry.
type Delivery struct {
	EnvelopeID string                 `json:"envelope_id"`
	SenderID   string                 `json:"sender_id"`
	ReceiverID string                 `json:"receiver_id"`
	Kind       string                 `json:"kind"`
	Capability string                 `json:"capability,omitempty"`
	Outcome    string                 `json:"outcome"`
	Latency    time.Duration          `json:"latency,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Event is a named coordination event with free-form data.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewExporter builds an exporter for the given protocol: "http" posts JSON
// batches to endpoint, "file" appends JSON lines to the endpoint path, and
// "noop" (or empty) discards everything.
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

// --- HTTP Exporter ---

// HTTPExporter batches records and posts them as one JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	buffer []interface{}
}

// NewHTTPExporter creates an exporter posting to the given endpoint.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		buffer:   make([]interface{}, 0, batchSize),
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.record(Event{Name: name, Timestamp: time.Now(), Data: data})
}

func (e *HTTPExporter) LogDelivery(d Delivery) {
	d.Timestamp = time.Now()
	e.record(d)
}

// record buffers one item, flushing when the batch fills. Flush errors on
// this path are dropped; the next Flush reports them.
func (e *HTTPExporter) record(item interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, item)
	if len(e.buffer) >= batchSize {
		e.flushLocked()
	}
}

// Flush posts the buffered batch. An empty buffer is a no-op.
func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *HTTPExporter) flushLocked() error {
	if len(e.buffer) == 0 {
		return nil
	}
	body, err := json.Marshal(e.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends records as JSON lines.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileExporter creates an exporter appending to the given path.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry file: %w", err)
	}
	return &FileExporter{file: f}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	e.writeLine(Event{Name: name, Timestamp: time.Now(), Data: data})
}

func (e *FileExporter) LogDelivery(d Delivery) {
	d.Timestamp = time.Now()
	e.writeLine(d)
}

func (e *FileExporter) writeLine(v interface{}) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(line, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards everything.
type NoopExporter struct{}

// NewNoopExporter creates a discarding exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) LogDelivery(d Delivery)                            {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
