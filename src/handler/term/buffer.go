package term

import (
	"sync"
	"unicode/utf8"

	"github.com/hinshun/vt10x"
)

// DefaultScrollbackRows bounds the scrollback ring.
const DefaultScrollbackRows = 10000

// Cell is one pre-rendered screen cell.
type Cell struct {
	Char rune
	FG   vt10x.Color
	BG   vt10x.Color
	Mode int16
}

// Snapshot is a consistent copy of the virtual screen. It is taken under
// the buffer lock, so a client applying it atomically always sees a
// complete frame.
type Snapshot struct {
	Cols          int
	Rows          int
	CursorCol     int
	CursorRow     int
	CursorVisible bool
	Cells         [][]Cell
	Sequence      uint64
}

// Buffer is a headless virtual terminal fed with the same bytes the
// recording captures. It keeps the visible cell matrix plus a bounded
// plain-text scrollback of lines that left the screen.
type Buffer struct {
	mu   sync.Mutex
	vt   vt10x.Terminal
	cols int
	rows int
	seq  uint64

	scrollback    []string
	scrollbackMax int

	// Plain-line reconstruction state for the scrollback ring. A partial
	// escape sequence at a write boundary is held here until the next
	// write completes it.
	plainLine  []rune
	parseState int
	pending    []byte
}

const (
	parseNormal = iota
	parseEsc
	parseCSI
	parseOSC
	parseOSCEsc
)

// NewBuffer creates a virtual terminal of the given size.
func NewBuffer(cols, rows int) *Buffer {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Buffer{
		vt:            vt10x.New(vt10x.WithSize(cols, rows)),
		cols:          cols,
		rows:          rows,
		scrollbackMax: DefaultScrollbackRows,
	}
}

// Write feeds raw terminal bytes into the virtual screen.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Hold back a trailing partial UTF-8 sequence so the emulator never
	// sees a split rune. The partial escape-sequence case is handled by
	// vt10x's own parser state; this covers multi-byte characters.
	data = append(b.pending, data...)
	b.pending = nil
	if n := trailingPartialRune(data); n > 0 {
		b.pending = append([]byte(nil), data[len(data)-n:]...)
		data = data[:len(data)-n]
	}
	if len(data) == 0 {
		return
	}
	_, _ = b.vt.Write(data)
	b.capturePlain(data)
	b.seq++
}

// trailingPartialRune returns the number of bytes at the end of data that
// form an incomplete UTF-8 sequence.
func trailingPartialRune(data []byte) int {
	n := len(data)
	for i := 1; i <= 4 && i <= n; i++ {
		c := data[n-i]
		if c < 0x80 {
			return 0
		}
		if c >= 0xC0 {
			// Start byte: incomplete if the sequence extends past the end.
			if r, size := utf8.DecodeRune(data[n-i:]); r == utf8.RuneError && size == 1 && i < utf8.UTFMax {
				return i
			}
			return 0
		}
	}
	return 0
}

// Resize changes the virtual screen dimensions.
func (b *Buffer) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cols = cols
	b.rows = rows
	b.vt.Resize(cols, rows)
	b.seq++
}

// Snapshot copies the current screen state under the lock.
func (b *Buffer) Snapshot() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	cols, rows := b.vt.Size()
	snap := &Snapshot{
		Cols:          cols,
		Rows:          rows,
		CursorVisible: b.vt.CursorVisible(),
		Cells:         make([][]Cell, rows),
		Sequence:      b.seq,
	}
	cursor := b.vt.Cursor()
	snap.CursorCol = cursor.X
	snap.CursorRow = cursor.Y

	b.vt.Lock()
	for y := 0; y < rows; y++ {
		row := make([]Cell, cols)
		for x := 0; x < cols; x++ {
			g := b.vt.Cell(x, y)
			row[x] = Cell{Char: g.Char, FG: g.FG, BG: g.BG, Mode: g.Mode}
		}
		snap.Cells[y] = row
	}
	b.vt.Unlock()
	return snap
}

// Sequence returns the current change counter.
func (b *Buffer) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Scrollback returns a copy of the captured scrollback lines.
func (b *Buffer) Scrollback() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.scrollback))
	copy(out, b.scrollback)
	return out
}

// capturePlain reconstructs logical output lines from the raw stream for
// the scrollback ring, skipping escape sequences. Cursor-positioning and
// erase-display commands discard the pending line so full-screen repaints
// do not pollute history.
func (b *Buffer) capturePlain(data []byte) {
	for len(data) > 0 {
		r, sz := utf8.DecodeRune(data)
		if r == utf8.RuneError && sz == 1 {
			r = rune(data[0])
		}
		data = data[sz:]

		switch b.parseState {
		case parseEsc:
			switch r {
			case '[':
				b.parseState = parseCSI
			case ']':
				b.parseState = parseOSC
			default:
				b.parseState = parseNormal
			}
			continue
		case parseCSI:
			if r >= 0x40 && r <= 0x7E {
				if r == 'H' || r == 'f' || r == 'J' {
					b.plainLine = b.plainLine[:0]
				}
				b.parseState = parseNormal
			}
			continue
		case parseOSC:
			if r == 0x07 {
				b.parseState = parseNormal
			} else if r == 0x1B {
				b.parseState = parseOSCEsc
			}
			continue
		case parseOSCEsc:
			switch r {
			case '\\':
				b.parseState = parseNormal
			case 0x1B:
				b.parseState = parseOSCEsc
			default:
				b.parseState = parseOSC
			}
			continue
		}

		switch r {
		case 0x1B:
			b.parseState = parseEsc
		case '\n':
			b.appendScrollback(string(b.plainLine))
			b.plainLine = b.plainLine[:0]
		case '\r':
			// Column reset only; clearing here would turn CRLF output
			// into empty history lines.
		case 0x08, 0x7F:
			if len(b.plainLine) > 0 {
				b.plainLine = b.plainLine[:len(b.plainLine)-1]
			}
		case '\t':
			b.plainLine = append(b.plainLine, ' ', ' ', ' ', ' ')
		default:
			if r >= 0x20 {
				b.plainLine = append(b.plainLine, r)
			}
		}
	}
}

func (b *Buffer) appendScrollback(line string) {
	b.scrollback = append(b.scrollback, line)
	if len(b.scrollback) > b.scrollbackMax {
		trim := len(b.scrollback) - b.scrollbackMax
		b.scrollback = b.scrollback[trim:]
	}
}
