package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/termcast/termcast-api/src/handler/session"
)

// clearMarker is the full-screen-clear escape sequence as it appears inside
// a JSON-escaped output payload on disk. Both the bare form and the
// clear-and-home variant contain this substring.
var clearMarker = []byte(`[2J`)

// clearAndHome is the synthesized sequence prepended to truncated backfills.
const clearAndHome = "\x1b[2J\x1b[H"

// Backfill is the initial payload delivered to a new subscriber: the
// recording header plus the event tail starting at the last screen clear.
type Backfill struct {
	Header *session.RecordingHeader
	Events []session.RecordingEvent
	// EndOffset is the byte offset up to which the recording was consumed.
	// Live tailing picks up from here.
	EndOffset int64
}

// ReadBackfill scans a recording and returns a correctly truncated backfill.
//
// Any terminal state prior to the last full-screen clear is by definition
// overwritten, so the backfill is the synthesized clear-and-home plus every
// event from the line containing that clear through limit. Recordings with
// no clear sequence are returned whole. This is the only backfill path:
// local, forwarded, and imported recordings all go through it.
//
// limit bounds the scan (pass the current file size); bytes appended during
// the scan are left for the live tail.
func ReadBackfill(path string, limit int64) (*Backfill, error) {
	header, headerEnd, err := session.ReadRecordingHeader(path)
	if err != nil {
		return nil, err
	}
	if limit < headerEnd {
		limit = headerEnd
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(headerEnd, 0); err != nil {
		return nil, err
	}

	// First pass: find the byte offset of the last event line containing a
	// full-screen clear inside an output payload. Line-by-line keeps the
	// scan memory-bounded for multi-hundred-MB recordings.
	lastClear := int64(-1)
	offset := headerEnd
	reader := bufio.NewReaderSize(f, 256*1024)
	for offset < limit {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 {
			break
		}
		lineStart := offset
		offset += int64(len(line))
		if offset > limit {
			break
		}
		if bytes.Contains(line, clearMarker) && bytes.Contains(line, []byte(`,"o",`)) {
			lastClear = lineStart
		}
		if err != nil {
			break
		}
	}

	start := headerEnd
	events := []session.RecordingEvent{}
	if lastClear >= 0 {
		start = lastClear
		events = append(events, session.RecordingEvent{Kind: session.EventOutput, Payload: clearAndHome})
	}

	// Second pass: parse events from the truncation point to limit.
	if _, err := f.Seek(start, 0); err != nil {
		return nil, err
	}
	reader = bufio.NewReaderSize(f, 256*1024)
	consumed := start
	for consumed < limit {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 {
			break
		}
		if consumed+int64(len(line)) > limit || !bytes.HasSuffix(line, []byte("\n")) {
			// Partial tail line, leave it for the live tail.
			break
		}
		consumed += int64(len(line))
		if ev, ok := session.ParseRecordingEvent(line); ok {
			events = append(events, ev)
		}
		if err != nil {
			break
		}
	}

	return &Backfill{Header: header, Events: events, EndOffset: consumed}, nil
}

// StatSize returns the current size of a recording file.
func StatSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat recording: %w", err)
	}
	return st.Size(), nil
}
