package session

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Session status values persisted in session.json.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusExited   = "exited"
)

// Title modes control how the terminal title is managed for a session.
const (
	TitleModeNone    = "none"
	TitleModeFilter  = "filter"
	TitleModeStatic  = "static"
	TitleModeDynamic = "dynamic"
)

// Spawn sources record where a session was created from.
const (
	SourceWeb       = "web"
	SourceTerminal  = "external-terminal"
	SourceForwarded = "forwarded"
)

// Sidecar file names inside a session directory.
const (
	infoFileName         = "session.json"
	streamOutFileName    = "stream-out"
	stdinFileName        = "stdin"
	controlFileName      = "control"
	notificationFileName = "notification-stream"
)

// Info is the persisted session descriptor plus last-known status. The
// session.json on disk is the source of truth; runtime status is recomputed
// from pid liveness on read.
type Info struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Command     []string          `json:"command"`
	WorkingDir  string            `json:"workingDir"`
	Env         map[string]string `json:"env,omitempty"`
	Cols        int               `json:"cols"`
	Rows        int               `json:"rows"`
	TitleMode   string            `json:"titleMode,omitempty"`
	Source      string            `json:"source,omitempty"`
	GitRepoPath string            `json:"gitRepoPath,omitempty"`
	GitBranch   string            `json:"gitBranch,omitempty"`
	RemoteID    string            `json:"remoteId,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	Pid         int               `json:"pid,omitempty"`
	Status      string            `json:"status"`
	ExitCode    *int              `json:"exitCode,omitempty"`
}

// Summary is the wire representation returned by list/get endpoints.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Command      []string  `json:"command"`
	WorkingDir   string    `json:"workingDir"`
	Status       string    `json:"status"`
	ExitCode     *int      `json:"exitCode,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	LastModified time.Time `json:"lastModified,omitempty"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	Pid          int       `json:"pid,omitempty"`
	Source       string    `json:"source,omitempty"`
	GitRepoPath  string    `json:"gitRepoPath,omitempty"`
	GitBranch    string    `json:"gitBranch,omitempty"`
	RemoteID     string    `json:"remoteId,omitempty"`
}

// Session binds a descriptor to its on-disk directory.
type Session struct {
	ID   string
	root string
}

func newSession(root, id string) *Session {
	return &Session{ID: id, root: root}
}

// Path returns the session directory.
func (s *Session) Path() string {
	return filepath.Join(s.root, s.ID)
}

// InfoPath returns the path to session.json.
func (s *Session) InfoPath() string {
	return filepath.Join(s.Path(), infoFileName)
}

// StreamOutPath returns the path to the recording file.
func (s *Session) StreamOutPath() string {
	return filepath.Join(s.Path(), streamOutFileName)
}

// StdinPath returns the path to the stdin FIFO.
func (s *Session) StdinPath() string {
	return filepath.Join(s.Path(), stdinFileName)
}

// ControlPath returns the path to the control FIFO.
func (s *Session) ControlPath() string {
	return filepath.Join(s.Path(), controlFileName)
}

// NotificationPath returns the path to the notification event log.
func (s *Session) NotificationPath() string {
	return filepath.Join(s.Path(), notificationFileName)
}

// LoadInfo reads and parses session.json.
func (s *Session) LoadInfo() (*Info, error) {
	data, err := os.ReadFile(s.InfoPath())
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse session.json for %s: %w", s.ID, err)
	}
	return &info, nil
}

// SaveInfo persists session.json with an atomic rename so readers never
// observe a partial write.
func (s *Session) SaveInfo(info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}
	tmp := s.InfoPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.InfoPath())
}

// PidAlive reports whether the given pid refers to a live process, using
// the portable kill(pid, 0) probe.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Summarize builds a wire summary from a descriptor, recomputing status
// from pid liveness. A "running" descriptor whose pid is dead is reported
// as exited (zombie correction happens in the registry).
func Summarize(info *Info, lastModified time.Time) Summary {
	status := info.Status
	if status == StatusRunning && !PidAlive(info.Pid) {
		status = StatusExited
	}
	return Summary{
		ID:           info.ID,
		Name:         info.Name,
		Command:      info.Command,
		WorkingDir:   info.WorkingDir,
		Status:       status,
		ExitCode:     info.ExitCode,
		StartedAt:    info.StartedAt,
		LastModified: lastModified,
		Cols:         info.Cols,
		Rows:         info.Rows,
		Pid:          info.Pid,
		Source:       info.Source,
		GitRepoPath:  info.GitRepoPath,
		GitBranch:    info.GitBranch,
		RemoteID:     info.RemoteID,
	}
}
