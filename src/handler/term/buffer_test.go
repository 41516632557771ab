package term

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func screenLine(snap *Snapshot, row int) string {
	var sb strings.Builder
	for _, cell := range snap.Cells[row] {
		ch := cell.Char
		if ch == 0 {
			ch = ' '
		}
		sb.WriteRune(ch)
	}
	return strings.TrimRight(sb.String(), " ")
}

func TestBufferRendersPlainText(t *testing.T) {
	b := NewBuffer(80, 24)
	b.Write([]byte("hello world"))

	snap := b.Snapshot()
	assert.Equal(t, 80, snap.Cols)
	assert.Equal(t, 24, snap.Rows)
	assert.Equal(t, "hello world", screenLine(snap, 0))
	assert.Equal(t, 0, snap.CursorRow)
	assert.Equal(t, 11, snap.CursorCol)
}

func TestBufferHandlesClearAndRedraw(t *testing.T) {
	b := NewBuffer(40, 10)
	b.Write([]byte("old content\r\nmore old\r\n"))
	b.Write([]byte("\x1b[2J\x1b[Hfresh"))

	snap := b.Snapshot()
	assert.Equal(t, "fresh", screenLine(snap, 0))
	for row := 1; row < snap.Rows; row++ {
		assert.Empty(t, screenLine(snap, row))
	}
}

func TestBufferHoldsPartialEscapeSequence(t *testing.T) {
	b := NewBuffer(40, 10)
	// A color escape split across two writes must not corrupt the screen.
	b.Write([]byte("a\x1b[3"))
	b.Write([]byte("1mred\x1b[0m"))

	snap := b.Snapshot()
	assert.Equal(t, "ared", screenLine(snap, 0))
}

func TestBufferHoldsPartialUTF8Rune(t *testing.T) {
	b := NewBuffer(40, 10)
	encoded := []byte("日本語")
	b.Write(encoded[:4]) // splits the second character
	b.Write(encoded[4:])

	snap := b.Snapshot()
	assert.Contains(t, screenLine(snap, 0), "日本語")
}

func TestBufferResize(t *testing.T) {
	b := NewBuffer(80, 24)
	b.Resize(100, 50)
	snap := b.Snapshot()
	assert.Equal(t, 100, snap.Cols)
	assert.Equal(t, 50, snap.Rows)

	// Invalid sizes are ignored.
	b.Resize(0, -1)
	snap = b.Snapshot()
	assert.Equal(t, 100, snap.Cols)
}

func TestBufferSequenceAdvancesOnWrite(t *testing.T) {
	b := NewBuffer(80, 24)
	before := b.Sequence()
	b.Write([]byte("tick"))
	assert.Greater(t, b.Sequence(), before)
}

func TestScrollbackCapturesCompletedLines(t *testing.T) {
	b := NewBuffer(80, 24)
	b.Write([]byte("first line\r\nsecond line\r\n"))

	lines := b.Scrollback()
	require.Len(t, lines, 2)
	assert.Equal(t, "first line", lines[0])
	assert.Equal(t, "second line", lines[1])
}

func TestScrollbackStripsEscapes(t *testing.T) {
	b := NewBuffer(80, 24)
	b.Write([]byte("\x1b[31mcolored\x1b[0m text\r\n"))

	lines := b.Scrollback()
	require.Len(t, lines, 1)
	assert.Equal(t, "colored text", lines[0])
}

func TestScrollbackIsBounded(t *testing.T) {
	b := NewBuffer(80, 24)
	b.scrollbackMax = 100
	for i := 0; i < 250; i++ {
		b.Write([]byte("line\r\n"))
	}
	assert.Len(t, b.Scrollback(), 100)
}
