package session

import (
	"bufio"
	"os"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// ControlMessage is a structured message on the session's control FIFO.
// External tools use it to resize or kill a session without going through
// the HTTP API.
type ControlMessage struct {
	Cmd    string `json:"cmd"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Signal string `json:"signal,omitempty"`
}

// startFIFOs creates the stdin and control FIFOs and starts their drain
// goroutines. FIFO failures are non-fatal: the HTTP input path still works.
func (p *PTY) startFIFOs() {
	var files []*os.File

	if f, ok := openFIFO(p.session.StdinPath()); ok {
		files = append(files, f)
		go p.drainStdinFIFO(f)
	}
	if f, ok := openFIFO(p.session.ControlPath()); ok {
		files = append(files, f)
		go p.drainControlFIFO(f)
	}

	p.stopFIFOs = func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
}

// openFIFO creates a FIFO and opens it read-write. Opening O_RDWR keeps a
// writer reference alive so reads block instead of spinning on EOF while
// no external writer is connected.
func openFIFO(path string) (*os.File, bool) {
	if err := syscall.Mkfifo(path, 0600); err != nil && !os.IsExist(err) {
		logrus.Warnf("Failed to create FIFO %s: %v", path, err)
		return nil, false
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		logrus.Warnf("Failed to open FIFO %s: %v", path, err)
		return nil, false
	}
	return f, true
}

// drainStdinFIFO forwards bytes appended to the stdin sidecar into the PTY.
func (p *PTY) drainStdinFIFO(f *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := p.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainControlFIFO applies structured control messages line by line.
// Invalid lines are logged and skipped.
func (p *PTY) drainControlFIFO(f *os.File) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logrus.WithField("session", p.session.ID).Warnf("Invalid control message: %v", err)
			continue
		}
		switch msg.Cmd {
		case "resize":
			if err := p.Resize(msg.Cols, msg.Rows); err != nil {
				logrus.WithField("session", p.session.ID).Warnf("Control resize failed: %v", err)
			}
		case "kill":
			sig := parseSignalName(msg.Signal)
			if sig == 0 {
				sig = syscall.SIGTERM
			}
			if err := p.Signal(sig); err != nil {
				logrus.WithField("session", p.session.ID).Warnf("Control kill failed: %v", err)
			}
		default:
			logrus.WithField("session", p.session.ID).Warnf("Unknown control command %q", msg.Cmd)
		}
	}
}

// parseSignalName maps a signal name (with or without the SIG prefix) to
// its number. Only the whitelist accepted by the control plane is mapped.
func parseSignalName(name string) syscall.Signal {
	switch strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "SIG")) {
	case "INT":
		return syscall.SIGINT
	case "TERM":
		return syscall.SIGTERM
	case "HUP":
		return syscall.SIGHUP
	case "QUIT":
		return syscall.SIGQUIT
	default:
		return 0
	}
}
