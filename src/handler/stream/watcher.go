package stream

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/session"
)

const (
	// subscriberQueueSize bounds each subscriber's outbound event queue.
	// Overflow disconnects the subscriber, never the session.
	subscriberQueueSize = 512

	// pollInterval is the fallback tail tick for platforms or paths where
	// fsnotify misses append events.
	pollInterval = 250 * time.Millisecond
)

// DisconnectReason tells a subscriber why its stream ended.
type DisconnectReason string

const (
	ReasonClosed       DisconnectReason = "closed"
	ReasonSlowConsumer DisconnectReason = "SlowConsumer"
)

// Subscriber receives a backfill followed by live recording events.
type Subscriber struct {
	Backfill *Backfill
	Events   chan session.RecordingEvent
	Done     chan struct{}

	once   sync.Once
	reason DisconnectReason
}

// Reason returns why the subscriber was disconnected.
func (s *Subscriber) Reason() DisconnectReason {
	return s.reason
}

func (s *Subscriber) close(reason DisconnectReason) {
	s.once.Do(func() {
		s.reason = reason
		close(s.Done)
	})
}

// tail is the shared per-session file tail. All subscribers of one session
// share one watch and one read cursor; reads never block appends.
type tail struct {
	sessionID string
	path      string

	mu          sync.Mutex
	initialized bool
	offset      int64
	partial     []byte
	subs        map[*Subscriber]struct{}
}

// Watcher tails session recordings and fans events out to subscribers.
type Watcher struct {
	registry *session.Manager
	notify   *fsnotify.Watcher

	mu    sync.Mutex
	tails map[string]*tail

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the given registry's recordings.
func NewWatcher(registry *session.Manager) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		registry: registry,
		notify:   notify,
		tails:    make(map[string]*tail),
		stopCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Subscribe attaches a new subscriber to a session's recording. The
// returned subscriber carries the truncated backfill; live events follow
// on its channel in recording order.
func (w *Watcher) Subscribe(sessionID string) (*Subscriber, error) {
	sess, err := w.registry.Session(sessionID)
	if err != nil {
		return nil, err
	}
	path := sess.StreamOutPath()

	w.mu.Lock()
	t, ok := w.tails[sessionID]
	if !ok {
		t = &tail{
			sessionID: sessionID,
			path:      path,
			subs:      make(map[*Subscriber]struct{}),
		}
		w.tails[sessionID] = t
		if err := w.notify.Add(path); err != nil {
			logrus.WithField("session", sessionID).Warnf("fsnotify add failed, relying on poll: %v", err)
		}
	}
	w.mu.Unlock()

	// Holding the tail lock while scanning pins the backfill/live boundary:
	// nothing is consumed by the tail until the subscriber is registered.
	t.mu.Lock()
	defer t.mu.Unlock()

	// The scan limit is the tail's consumed position; for a fresh tail it
	// is the current file size, and the cursor starts at the last complete
	// line so a partial trailing write is picked up by the live tail.
	limit := t.offset
	if !t.initialized {
		size, err := StatSize(path)
		if err != nil {
			return nil, err
		}
		limit = size
	} else {
		limit -= int64(len(t.partial))
	}
	backfill, err := ReadBackfill(path, limit)
	if err != nil {
		return nil, err
	}
	if !t.initialized {
		t.offset = backfill.EndOffset
		t.initialized = true
	}

	sub := &Subscriber{
		Backfill: backfill,
		Events:   make(chan session.RecordingEvent, subscriberQueueSize),
		Done:     make(chan struct{}),
	}
	t.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe drops a subscriber. The tail (and its file watch) is released
// when the last subscriber leaves; no state remains in the recording.
func (w *Watcher) Unsubscribe(sessionID string, sub *Subscriber) {
	sub.close(ReasonClosed)

	w.mu.Lock()
	t, ok := w.tails[sessionID]
	w.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.subs, sub)
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		w.mu.Lock()
		if cur, ok := w.tails[sessionID]; ok && cur == t {
			delete(w.tails, sessionID)
			_ = w.notify.Remove(t.path)
		}
		w.mu.Unlock()
	}
}

// run dispatches fsnotify events and drives the fallback poll tick.
func (w *Watcher) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			if t := w.tailForPath(event.Name); t != nil {
				w.consume(t)
			}
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			logrus.Warnf("Recording watch error: %v", err)
		case <-ticker.C:
			for _, t := range w.allTails() {
				w.consume(t)
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) tailForPath(path string) *tail {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.tails {
		if t.path == path {
			return t
		}
	}
	return nil
}

func (w *Watcher) allTails() []*tail {
	w.mu.Lock()
	defer w.mu.Unlock()
	tails := make([]*tail, 0, len(w.tails))
	for _, t := range w.tails {
		tails = append(tails, t)
	}
	return tails
}

// consume reads newly appended bytes, parses complete event lines, and
// pushes them to every subscriber in recording order. A subscriber whose
// queue is full is disconnected as a slow consumer.
func (w *Watcher) consume(t *tail) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size, err := StatSize(t.path)
	if err != nil || size <= t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.offset, 0); err != nil {
		return
	}
	chunk := make([]byte, size-t.offset)
	n, err := f.Read(chunk)
	if n <= 0 {
		return
	}
	t.offset += int64(n)

	data := append(t.partial, chunk[:n]...)
	var slow []*Subscriber
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx+1]
		data = data[idx+1:]
		ev, ok := session.ParseRecordingEvent(line)
		if !ok {
			continue
		}
		for sub := range t.subs {
			select {
			case sub.Events <- ev:
			case <-sub.Done:
			default:
				slow = append(slow, sub)
			}
		}
		for _, sub := range slow {
			delete(t.subs, sub)
			sub.close(ReasonSlowConsumer)
			logrus.WithField("session", t.sessionID).Warn("Disconnected slow consumer")
		}
		slow = slow[:0]
	}
	// Hold the partial trailing line until the next append completes it.
	t.partial = append([]byte(nil), data...)
}

// Close stops the watcher and disconnects all subscribers.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.notify.Close()
		w.mu.Lock()
		tails := w.tails
		w.tails = make(map[string]*tail)
		w.mu.Unlock()
		for _, t := range tails {
			t.mu.Lock()
			for sub := range t.subs {
				sub.close(ReasonClosed)
			}
			t.mu.Unlock()
		}
	})
}
