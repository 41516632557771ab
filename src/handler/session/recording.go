package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Recording event kinds. The on-disk format is asciinema v2 compatible:
// a JSON header line followed by `[elapsedSeconds, kind, payload]` lines.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// RecordingHeader is the first line of a session recording.
type RecordingHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// RecordingEvent is a single parsed recording line.
type RecordingEvent struct {
	Elapsed float64
	Kind    string
	Payload string
}

// StreamWriter appends events to a session recording. All writes are
// serialized through its mutex; only the owning supervisor holds one,
// which is what keeps the single-appender invariant.
type StreamWriter struct {
	mu      sync.Mutex
	file    *os.File
	header  *RecordingHeader
	started time.Time
	lastT   float64
	closed  bool
}

// NewStreamWriter creates a writer over an open recording file.
func NewStreamWriter(file *os.File, header *RecordingHeader) *StreamWriter {
	started := time.Now()
	if header.Timestamp == 0 {
		header.Timestamp = started.Unix()
	}
	return &StreamWriter{
		file:    file,
		header:  header,
		started: started,
	}
}

// WriteHeader writes the header line. Must be called once before any event.
func (w *StreamWriter) WriteHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(w.header)
	if err != nil {
		return fmt.Errorf("failed to marshal recording header: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write recording header: %w", err)
	}
	return nil
}

// WriteOutput appends an output event carrying raw terminal bytes.
func (w *StreamWriter) WriteOutput(data []byte) error {
	return w.writeEvent(EventOutput, string(data))
}

// WriteInput appends an input-echo event.
func (w *StreamWriter) WriteInput(data []byte) error {
	return w.writeEvent(EventInput, string(data))
}

// WriteResize appends a resize event with a "COLSxROWS" payload.
func (w *StreamWriter) WriteResize(cols, rows int) error {
	return w.writeEvent(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (w *StreamWriter) writeEvent(kind, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	elapsed := time.Since(w.started).Seconds()
	// Timestamps must be monotonically non-decreasing even if the wall
	// clock steps backwards.
	if elapsed < w.lastT {
		elapsed = w.lastT
	}
	w.lastT = elapsed
	line, err := json.Marshal([]interface{}{elapsed, kind, payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append %s event: %w", kind, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// ReadRecordingHeader reads and parses the header line of a recording,
// returning the header and the byte offset of the first event line.
func ReadRecordingHeader(path string) (*RecordingHeader, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("failed to read recording header: %w", err)
	}
	var header RecordingHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to parse recording header: %w", err)
	}
	return &header, int64(len(line)), nil
}

// ParseRecordingEvent parses a single `[t, kind, payload]` line. Returns
// false for lines that are not complete events (e.g. a partial tail write).
func ParseRecordingEvent(line []byte) (RecordingEvent, bool) {
	var raw []interface{}
	if err := json.Unmarshal(line, &raw); err != nil || len(raw) < 3 {
		return RecordingEvent{}, false
	}
	elapsed, ok := raw[0].(float64)
	if !ok {
		return RecordingEvent{}, false
	}
	kind, ok := raw[1].(string)
	if !ok {
		return RecordingEvent{}, false
	}
	payload, ok := raw[2].(string)
	if !ok {
		return RecordingEvent{}, false
	}
	return RecordingEvent{Elapsed: elapsed, Kind: kind, Payload: payload}, true
}
