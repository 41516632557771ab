package term

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/stream"
)

const (
	// flushIdle is how long after the last event a snapshot is emitted.
	flushIdle = 50 * time.Millisecond

	// flushBytes forces a snapshot once this much output accumulated.
	flushBytes = 64 * 1024

	// snapshotQueueSize bounds each binary subscriber's frame queue.
	snapshotQueueSize = 16
)

// BufferSub receives encoded VTCB frames for one session.
type BufferSub struct {
	Frames chan []byte
	Done   chan struct{}
	once   sync.Once
}

func (s *BufferSub) close() {
	s.once.Do(func() { close(s.Done) })
}

// entry is the renderer state for one session: a virtual terminal fed from
// the recording via the stream watcher, plus its binary subscribers.
type entry struct {
	sessionID string
	buffer    *Buffer
	sub       *stream.Subscriber

	mu   sync.Mutex
	subs map[*BufferSub]struct{}
}

// Manager maintains one headless virtual terminal per watched session and
// broadcasts snapshots to binary subscribers.
type Manager struct {
	registry *session.Manager
	watcher  *stream.Watcher

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates the renderer manager.
func NewManager(registry *session.Manager, watcher *stream.Watcher) *Manager {
	return &Manager{
		registry: registry,
		watcher:  watcher,
		entries:  make(map[string]*entry),
	}
}

// Subscribe attaches a binary subscriber to a session. The full current
// snapshot is delivered as the first frame.
func (m *Manager) Subscribe(sessionID string) (*BufferSub, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}
	sub := &BufferSub{
		Frames: make(chan []byte, snapshotQueueSize),
		Done:   make(chan struct{}),
	}
	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	sub.Frames <- Encode(e.buffer.Snapshot())
	return sub, nil
}

// Unsubscribe detaches a binary subscriber; the renderer entry is released
// when the last one leaves.
func (m *Manager) Unsubscribe(sessionID string, sub *BufferSub) {
	sub.close()
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.subs, sub)
	empty := len(e.subs) == 0
	e.mu.Unlock()
	if empty {
		m.release(sessionID, e)
	}
}

// Snapshot returns a one-shot snapshot of a session's screen.
func (m *Manager) Snapshot(sessionID string) (*Snapshot, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}
	snap := e.buffer.Snapshot()
	e.mu.Lock()
	empty := len(e.subs) == 0
	e.mu.Unlock()
	if empty {
		m.release(sessionID, e)
	}
	return snap, nil
}

func (m *Manager) entryFor(sessionID string) (*entry, error) {
	m.mu.Lock()
	if e, ok := m.entries[sessionID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	streamSub, err := m.watcher.Subscribe(sessionID)
	if err != nil {
		return nil, err
	}

	backfill := streamSub.Backfill
	buffer := NewBuffer(backfill.Header.Width, backfill.Header.Height)
	seedBuffer(buffer, backfill.Events)

	e := &entry{
		sessionID: sessionID,
		buffer:    buffer,
		sub:       streamSub,
		subs:      make(map[*BufferSub]struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.entries[sessionID]; ok {
		// Lost the race; discard ours.
		m.mu.Unlock()
		m.watcher.Unsubscribe(sessionID, streamSub)
		return existing, nil
	}
	m.entries[sessionID] = e
	m.mu.Unlock()

	go m.feed(e)
	return e, nil
}

func (m *Manager) release(sessionID string, e *entry) {
	m.mu.Lock()
	if cur, ok := m.entries[sessionID]; ok && cur == e {
		delete(m.entries, sessionID)
	}
	m.mu.Unlock()
	m.watcher.Unsubscribe(sessionID, e.sub)
}

// seedBuffer replays backfill events so a fresh renderer reflects the
// recording's current screen.
func seedBuffer(buffer *Buffer, events []session.RecordingEvent) {
	for _, ev := range events {
		applyEvent(buffer, ev)
	}
}

func applyEvent(buffer *Buffer, ev session.RecordingEvent) {
	switch ev.Kind {
	case session.EventOutput:
		buffer.Write([]byte(ev.Payload))
	case session.EventResize:
		var cols, rows int
		if _, err := fmt.Sscanf(strings.TrimSpace(ev.Payload), "%dx%d", &cols, &rows); err == nil {
			buffer.Resize(cols, rows)
		}
	}
}

// feed drives an entry's buffer from live recording events, emitting
// snapshots on flush boundaries: idle after output, byte threshold, and
// unconditionally on resize.
func (m *Manager) feed(e *entry) {
	var idle *time.Timer
	var idleC <-chan time.Time
	pending := 0

	flush := func() {
		pending = 0
		if idle != nil {
			idle.Stop()
			idle = nil
			idleC = nil
		}
		m.broadcast(e)
	}

	for {
		select {
		case ev, ok := <-e.sub.Events:
			if !ok {
				return
			}
			applyEvent(e.buffer, ev)
			if ev.Kind == session.EventResize {
				flush()
				continue
			}
			pending += len(ev.Payload)
			if pending >= flushBytes {
				flush()
				continue
			}
			if idle != nil {
				idle.Stop()
			}
			idle = time.NewTimer(flushIdle)
			idleC = idle.C
		case <-idleC:
			flush()
		case <-e.sub.Done:
			if pending > 0 {
				flush()
			}
			if e.sub.Reason() == stream.ReasonSlowConsumer {
				logrus.WithField("session", e.sessionID).Warn("Renderer fell behind recording tail")
			}
			return
		}
	}
}

// broadcast encodes the current snapshot and pushes it to all subscribers.
// A subscriber that cannot keep up skips frames rather than queueing stale
// screens; the next frame it gets is always the freshest.
func (m *Manager) broadcast(e *entry) {
	frame := Encode(e.buffer.Snapshot())
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		select {
		case sub.Frames <- frame:
		case <-sub.Done:
		default:
			// Queue full: drop the oldest pending frame and retry so the
			// subscriber converges on the latest snapshot.
			select {
			case <-sub.Frames:
			default:
			}
			select {
			case sub.Frames <- frame:
			default:
			}
		}
	}
}

// Close releases all renderer entries.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
	for id, e := range entries {
		m.watcher.Unsubscribe(id, e.sub)
		e.mu.Lock()
		for sub := range e.subs {
			sub.close()
		}
		e.mu.Unlock()
	}
}
