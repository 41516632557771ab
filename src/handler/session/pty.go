package session

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/lib/apierr"
)

const (
	// ptyReadBufSize is the chunk size for draining the PTY master.
	ptyReadBufSize = 32 * 1024

	// appendQueueSize bounds the per-session queue between the PTY reader
	// and the recording writer. When full the reader suspends, which lets
	// the kernel PTY buffer fill and ultimately blocks the child on write.
	appendQueueSize = 256

	// DefaultKillGrace is the SIGTERM→SIGKILL escalation window.
	DefaultKillGrace = 3 * time.Second
)

// PTY owns exactly one child process behind a PTY master: it drains output
// into the recording, accepts input and control messages, and reports exit.
type PTY struct {
	session *Session
	info    *Info

	cmd    *exec.Cmd
	ptmx   *os.File
	writer *StreamWriter

	outputCh chan []byte

	mu       sync.Mutex
	exited   bool
	exitCode int

	exitOnce sync.Once
	exitCbs  []func(exitCode int)
	doneCh   chan struct{}

	stopFIFOs func()
}

// Spawn allocates a PTY with the configured size and forks the command
// vector with the given env overlay and working directory. The command is
// always executed argv-style, never through a shell.
func Spawn(sess *Session, info *Info) (*PTY, error) {
	if len(info.Command) == 0 {
		return nil, apierr.New(apierr.KindInvalidRequest, "empty command")
	}
	if info.Cols <= 0 || info.Rows <= 0 {
		return nil, apierr.New(apierr.KindInvalidRequest, "invalid size %dx%d", info.Cols, info.Rows)
	}

	cmd := exec.Command(info.Command[0], info.Command[1:]...)
	if info.WorkingDir != "" {
		if _, err := os.Stat(info.WorkingDir); err != nil {
			return nil, apierr.New(apierr.KindSpawnFailed, "working directory %q not accessible: %v", info.WorkingDir, err)
		}
		cmd.Dir = info.WorkingDir
	}
	cmd.Env = buildEnv(info.Env)
	// New session + process group so signals reach the whole tree and the
	// child gets the PTY slave as its controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(info.Cols),
		Rows: uint16(info.Rows),
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindSpawnFailed, fmt.Errorf("failed to start pty: %w", err))
	}

	streamOut, err := os.OpenFile(sess.StreamOutPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		return nil, apierr.Wrap(apierr.KindSpawnFailed, fmt.Errorf("failed to create stream-out: %w", err))
	}

	writer := NewStreamWriter(streamOut, &RecordingHeader{
		Version:   2,
		Width:     info.Cols,
		Height:    info.Rows,
		Timestamp: info.StartedAt.Unix(),
		Command:   strings.Join(info.Command, " "),
		Title:     info.Name,
		Env: map[string]string{
			"SHELL": os.Getenv("SHELL"),
			"TERM":  "xterm-256color",
		},
	})
	if err := writer.WriteHeader(); err != nil {
		_ = writer.Close()
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		return nil, apierr.Wrap(apierr.KindSpawnFailed, err)
	}

	p := &PTY{
		session:  sess,
		info:     info,
		cmd:      cmd,
		ptmx:     ptmx,
		writer:   writer,
		outputCh: make(chan []byte, appendQueueSize),
		doneCh:   make(chan struct{}),
	}

	info.Pid = cmd.Process.Pid
	info.Status = StatusRunning

	go p.readLoop()
	go p.appendLoop()
	go p.waitLoop()
	p.startFIFOs()

	logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"pid":     info.Pid,
		"command": info.Command[0],
	}).Info("Spawned session")
	return p, nil
}

// buildEnv merges the overlay onto the parent environment and pins TERM.
func buildEnv(overlay map[string]string) []string {
	env := make([]string, 0, len(os.Environ())+len(overlay)+1)
	for _, e := range os.Environ() {
		key := e
		if idx := strings.Index(e, "="); idx >= 0 {
			key = e[:idx]
		}
		if _, override := overlay[key]; override || key == "TERM" {
			continue
		}
		env = append(env, e)
	}
	for k, v := range overlay {
		if k == "TERM" {
			continue
		}
		env = append(env, k+"="+v)
	}
	env = append(env, "TERM=xterm-256color")
	return env
}

// Pid returns the child process pid.
func (p *PTY) Pid() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// readLoop drains the PTY master. A full outputCh suspends this goroutine,
// which is the backpressure path: the kernel PTY buffer fills and the child
// blocks on write, never the server.
func (p *PTY) readLoop() {
	buf := make([]byte, ptyReadBufSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.outputCh <- data
		}
		if err != nil {
			close(p.outputCh)
			return
		}
	}
}

// appendLoop is the single writer into the recording for output events.
func (p *PTY) appendLoop() {
	for data := range p.outputCh {
		if err := p.writer.WriteOutput(data); err != nil {
			logrus.WithField("session", p.session.ID).Errorf("Recording append failed: %v", err)
			// A failing recording is fatal for the session.
			p.internalExit()
			return
		}
	}
}

// waitLoop reaps the child and finalizes the session.
func (p *PTY) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() {
					code = 128 + int(status.Signal())
				} else {
					code = status.ExitStatus()
				}
			}
		} else {
			code = 1
		}
	}
	p.finishExit(code)
}

// internalExit handles fatal drain-loop failures: the child is killed and
// the session surfaces as exited with an internal code.
func (p *PTY) internalExit() {
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
	p.finishExit(-1)
}

func (p *PTY) finishExit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exited = true
		p.exitCode = code
		cbs := p.exitCbs
		p.exitCbs = nil
		p.mu.Unlock()

		if p.stopFIFOs != nil {
			p.stopFIFOs()
		}
		_ = p.writer.Close()
		_ = p.ptmx.Close()

		if info, err := p.session.LoadInfo(); err == nil {
			info.Status = StatusExited
			info.ExitCode = &code
			if err := p.session.SaveInfo(info); err != nil {
				logrus.WithField("session", p.session.ID).Errorf("Failed to persist exit status: %v", err)
			}
		}

		close(p.doneCh)
		for _, cb := range cbs {
			cb(code)
		}
		logrus.WithFields(logrus.Fields{
			"session":  p.session.ID,
			"exitCode": code,
		}).Info("Session exited")
	})
}

// Write enqueues input bytes to the PTY master and echoes them into the
// recording as an input event.
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return 0, apierr.New(apierr.KindSessionGone, "session %s already exited", p.session.ID)
	}
	p.mu.Unlock()

	n, err := p.ptmx.Write(data)
	if err != nil {
		return n, apierr.Wrap(apierr.KindSessionGone, err)
	}
	if err := p.writer.WriteInput(data[:n]); err != nil {
		logrus.WithField("session", p.session.ID).Warnf("Failed to record input event: %v", err)
	}
	return n, nil
}

// Resize issues the window-size ioctl and appends a resize event. Retrying
// a resize with the same dimensions is allowed and produces another event.
func (p *PTY) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apierr.New(apierr.KindInvalidRequest, "invalid size %dx%d", cols, rows)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return apierr.New(apierr.KindSessionGone, "session %s already exited", p.session.ID)
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	if err := p.writer.WriteResize(cols, rows); err != nil {
		logrus.WithField("session", p.session.ID).Warnf("Failed to record resize event: %v", err)
	}
	p.info.Cols = cols
	p.info.Rows = rows
	if info, err := p.session.LoadInfo(); err == nil {
		info.Cols = cols
		info.Rows = rows
		_ = p.session.SaveInfo(info)
	}
	return nil
}

// Signal delivers a signal to the child's process group.
func (p *PTY) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return apierr.New(apierr.KindSessionGone, "session %s already exited", p.session.ID)
	}
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// Kill sends SIGTERM, waits up to grace, then escalates to SIGKILL.
// Returns the child's exit code.
func (p *PTY) Kill(grace time.Duration) (int, error) {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	p.mu.Lock()
	if p.exited {
		code := p.exitCode
		p.mu.Unlock()
		return code, nil
	}
	pid := p.cmd.Process.Pid
	p.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-p.doneCh:
	case <-time.After(grace):
		logrus.WithField("session", p.session.ID).Warnf("Grace period expired, sending SIGKILL")
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-p.doneCh
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

// OnExit registers a single-shot callback invoked with the exit code. If
// the session already exited the callback fires immediately.
func (p *PTY) OnExit(cb func(exitCode int)) {
	p.mu.Lock()
	if p.exited {
		code := p.exitCode
		p.mu.Unlock()
		cb(code)
		return
	}
	p.exitCbs = append(p.exitCbs, cb)
	p.mu.Unlock()
}

// Done returns a channel closed when the child has exited.
func (p *PTY) Done() <-chan struct{} {
	return p.doneCh
}

// Exited reports whether the child has terminated.
func (p *PTY) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the exit code once the child has terminated.
func (p *PTY) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
