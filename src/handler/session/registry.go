package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/lib/apierr"
)

// Manager is the authoritative set of sessions on this node. Live PTYs are
// held in memory; the on-disk session directories (and their session.json)
// survive restarts and are merged into list results.
type Manager struct {
	root string

	mu       sync.RWMutex
	sessions map[string]*Session
	ptys     map[string]*PTY
}

// NewManager creates a session manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create control directory: %w", err)
	}
	return &Manager{
		root:     dir,
		sessions: make(map[string]*Session),
		ptys:     make(map[string]*PTY),
	}, nil
}

// Root returns the control directory holding all session directories.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a session directory, persists the descriptor, and spawns
// the child under a PTY. Info.ID is assigned here if empty.
func (m *Manager) Create(info *Info) (*Info, error) {
	if len(info.Command) == 0 {
		return nil, apierr.New(apierr.KindInvalidRequest, "empty command")
	}
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.Cols <= 0 {
		info.Cols = 80
	}
	if info.Rows <= 0 {
		info.Rows = 24
	}
	if info.WorkingDir == "" {
		info.WorkingDir, _ = os.Getwd()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	if info.Source == "" {
		info.Source = SourceWeb
	}
	info.Status = StatusStarting

	m.mu.Lock()
	if _, exists := m.sessions[info.ID]; exists {
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindConflict, "session %s already exists", info.ID)
	}
	sess := newSession(m.root, info.ID)
	m.sessions[info.ID] = sess
	m.mu.Unlock()

	if err := os.MkdirAll(sess.Path(), 0755); err != nil {
		m.forget(info.ID)
		return nil, apierr.Wrap(apierr.KindInternal, err)
	}
	if err := sess.SaveInfo(info); err != nil {
		m.forget(info.ID)
		return nil, apierr.Wrap(apierr.KindInternal, err)
	}

	p, err := Spawn(sess, info)
	if err != nil {
		info.Status = StatusExited
		code := -1
		info.ExitCode = &code
		_ = sess.SaveInfo(info)
		m.forget(info.ID)
		return nil, err
	}
	if err := sess.SaveInfo(info); err != nil {
		logrus.WithField("session", info.ID).Errorf("Failed to persist running status: %v", err)
	}

	m.mu.Lock()
	m.ptys[info.ID] = p
	m.mu.Unlock()

	p.OnExit(func(code int) {
		m.mu.Lock()
		delete(m.ptys, info.ID)
		m.mu.Unlock()
	})

	return info, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.ptys, id)
	m.mu.Unlock()
}

// List returns the union of live supervised sessions and on-disk session
// directories, with zombie statuses corrected and persisted lazily.
func (m *Manager) List() []Summary {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		logrus.Errorf("Failed to read control directory: %v", err)
		return nil
	}
	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		summary, err := m.summarize(e.Name())
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Get returns the summary for one session.
func (m *Manager) Get(id string) (Summary, error) {
	if _, err := os.Stat(filepath.Join(m.root, id, infoFileName)); err != nil {
		return Summary{}, apierr.New(apierr.KindNotFound, "session %s not found", id)
	}
	return m.summarize(id)
}

// summarize loads a descriptor, corrects a zombie status in place, and
// builds the wire summary.
func (m *Manager) summarize(id string) (Summary, error) {
	sess := m.sessionFor(id)
	info, err := sess.LoadInfo()
	if err != nil {
		return Summary{}, apierr.New(apierr.KindNotFound, "session %s not found", id)
	}
	if info.ID != id {
		logrus.Warnf("session.json id %q does not match directory %q", info.ID, id)
	}

	// Zombie correction: directory says running, pid is dead. Persist the
	// corrected status so the next reader sees it directly.
	if info.Status == StatusRunning && !PidAlive(info.Pid) {
		info.Status = StatusExited
		if info.ExitCode == nil {
			code := -1
			info.ExitCode = &code
		}
		if err := sess.SaveInfo(info); err != nil {
			logrus.WithField("session", id).Warnf("Failed to persist zombie correction: %v", err)
		}
	}

	var lastModified time.Time
	if st, err := os.Stat(sess.StreamOutPath()); err == nil {
		lastModified = st.ModTime()
	}
	return Summarize(info, lastModified), nil
}

// sessionFor returns the tracked Session handle for id, or an untracked one
// for on-disk directories created by a previous process.
func (m *Manager) sessionFor(id string) *Session {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess
	}
	return newSession(m.root, id)
}

// Session resolves a session handle by id.
func (m *Manager) Session(id string) (*Session, error) {
	sess := m.sessionFor(id)
	if _, err := os.Stat(sess.InfoPath()); err != nil {
		return nil, apierr.New(apierr.KindNotFound, "session %s not found", id)
	}
	return sess, nil
}

// PTY returns the live supervisor for a session, or SessionGone if the
// session exists on disk but is no longer supervised here.
func (m *Manager) PTY(id string) (*PTY, error) {
	m.mu.RLock()
	p, ok := m.ptys[id]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}
	if _, err := m.Session(id); err != nil {
		return nil, err
	}
	return nil, apierr.New(apierr.KindSessionGone, "session %s is not running", id)
}

// Rename updates the session's display name. Names must be unique across
// sessions; a collision is a conflict. Last writer wins for repeated
// renames of the same session.
func (m *Manager) Rename(id, newName string) error {
	sess, err := m.Session(id)
	if err != nil {
		return err
	}
	if newName != "" {
		for _, s := range m.List() {
			if s.ID != id && s.Name == newName {
				return apierr.New(apierr.KindConflict, "session name %q already in use", newName)
			}
		}
	}
	info, err := sess.LoadInfo()
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err)
	}
	info.Name = newName
	if err := sess.SaveInfo(info); err != nil {
		return apierr.Wrap(apierr.KindInternal, err)
	}
	m.notify(sess, "rename", newName)
	return nil
}

// Delete removes an exited session's directory. With force, a running
// session is killed first.
func (m *Manager) Delete(id string, force bool, grace time.Duration) error {
	sess, err := m.Session(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	p, running := m.ptys[id]
	m.mu.RUnlock()

	if running && !p.Exited() {
		if !force {
			return apierr.New(apierr.KindConflict, "session %s is still running", id)
		}
		if _, err := p.Kill(grace); err != nil {
			return apierr.Wrap(apierr.KindInternal, err)
		}
	}

	if err := os.RemoveAll(sess.Path()); err != nil {
		return apierr.Wrap(apierr.KindInternal, err)
	}
	m.forget(id)
	logrus.WithField("session", id).Info("Deleted session")
	return nil
}

// CleanupExited bulk-deletes exited sessions whose recording has not been
// touched for longer than olderThan. Returns the deleted ids.
func (m *Manager) CleanupExited(olderThan time.Duration) []string {
	var deleted []string
	cutoff := time.Now().Add(-olderThan)
	for _, s := range m.List() {
		if s.Status != StatusExited {
			continue
		}
		ref := s.LastModified
		if ref.IsZero() {
			ref = s.StartedAt
		}
		if ref.After(cutoff) {
			continue
		}
		if err := m.Delete(s.ID, false, 0); err == nil {
			deleted = append(deleted, s.ID)
		}
	}
	return deleted
}

// Shutdown kills all supervised sessions with the default grace period.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ptys := make([]*PTY, 0, len(m.ptys))
	for _, p := range m.ptys {
		ptys = append(ptys, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range ptys {
		wg.Add(1)
		go func(p *PTY) {
			defer wg.Done()
			_, _ = p.Kill(DefaultKillGrace)
		}(p)
	}
	wg.Wait()
}

// notify appends an out-of-band event to the session's notification stream.
func (m *Manager) notify(sess *Session, kind, payload string) {
	f, err := os.OpenFile(sess.NotificationPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(map[string]interface{}{
		"type":      kind,
		"payload":   payload,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}
