package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRecording builds a recording file from raw event payloads.
func writeRecording(t *testing.T, events ...[3]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream-out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(`{"version":2,"width":80,"height":24,"command":"test"}` + "\n")
	require.NoError(t, err)
	for _, ev := range events {
		line, err := jsonMarshal(ev)
		require.NoError(t, err)
		_, err = f.Write(append(line, '\n'))
		require.NoError(t, err)
	}
	return path
}

func jsonMarshal(ev [3]interface{}) ([]byte, error) {
	return testJSON.Marshal([]interface{}{ev[0], ev[1], ev[2]})
}

func TestBackfillWithoutClearReturnsEverything(t *testing.T) {
	path := writeRecording(t,
		[3]interface{}{0.1, "o", "one"},
		[3]interface{}{0.2, "o", "two"},
		[3]interface{}{0.3, "r", "100x40"},
	)
	size, err := StatSize(path)
	require.NoError(t, err)

	bf, err := ReadBackfill(path, size)
	require.NoError(t, err)
	assert.Equal(t, 80, bf.Header.Width)
	require.Len(t, bf.Events, 3)
	assert.Equal(t, "one", bf.Events[0].Payload)
	assert.Equal(t, "two", bf.Events[1].Payload)
	assert.Equal(t, "100x40", bf.Events[2].Payload)
	assert.Equal(t, size, bf.EndOffset)
}

func TestBackfillTruncatesAtLastClear(t *testing.T) {
	path := writeRecording(t,
		[3]interface{}{0.1, "o", "ancient history"},
		[3]interface{}{0.2, "o", "\x1b[2J\x1b[Hfirst clear"},
		[3]interface{}{0.3, "o", "middle"},
		[3]interface{}{0.4, "o", "\x1b[2Jlast clear"},
		[3]interface{}{0.5, "o", "tail"},
	)
	size, err := StatSize(path)
	require.NoError(t, err)

	bf, err := ReadBackfill(path, size)
	require.NoError(t, err)

	// Synthesized clear-and-home, then the event containing the last
	// clear, then everything after it. Nothing before the last clear.
	require.Len(t, bf.Events, 3)
	assert.Equal(t, "\x1b[2J\x1b[H", bf.Events[0].Payload)
	assert.Equal(t, "\x1b[2Jlast clear", bf.Events[1].Payload)
	assert.Equal(t, "tail", bf.Events[2].Payload)
	for _, ev := range bf.Events {
		assert.NotContains(t, ev.Payload, "ancient history")
		assert.NotContains(t, ev.Payload, "middle")
	}
}

func TestBackfillIgnoresClearInInputEvents(t *testing.T) {
	path := writeRecording(t,
		[3]interface{}{0.1, "o", "real output"},
		[3]interface{}{0.2, "i", "\x1b[2J"}, // pasted by a user, not a screen clear
	)
	size, err := StatSize(path)
	require.NoError(t, err)

	bf, err := ReadBackfill(path, size)
	require.NoError(t, err)
	require.Len(t, bf.Events, 2)
	assert.Equal(t, "real output", bf.Events[0].Payload)
}

func TestBackfillStopsAtPartialTailLine(t *testing.T) {
	path := writeRecording(t,
		[3]interface{}{0.1, "o", "complete"},
	)
	// Simulate an append caught mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`[0.2,"o","par`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	size, err := StatSize(path)
	require.NoError(t, err)
	bf, err := ReadBackfill(path, size)
	require.NoError(t, err)
	require.Len(t, bf.Events, 1)
	assert.Equal(t, "complete", bf.Events[0].Payload)
	assert.Less(t, bf.EndOffset, size)
}

func TestBackfillBoundsLargeRecordings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.WriteString(`{"version":2,"width":80,"height":24}` + "\n")
	require.NoError(t, err)

	// ~40MB of filler payload (about 250MB on disk once each NUL byte is
	// JSON-escaped), then one clear, then a short tail.
	filler, err := testJSON.Marshal([]interface{}{0.1, "o", string(make([]byte, 4096))})
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		_, err = f.Write(append(filler, '\n'))
		require.NoError(t, err)
	}
	clearLine, err := testJSON.Marshal([]interface{}{5.0, "o", "\x1b[2J\x1b[Hfresh screen"})
	require.NoError(t, err)
	_, err = f.Write(append(clearLine, '\n'))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		tail, merr := testJSON.Marshal([]interface{}{5.1, "o", fmt.Sprintf("tail-%d", i)})
		require.NoError(t, merr)
		_, err = f.Write(append(tail, '\n'))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	size, err := StatSize(path)
	require.NoError(t, err)
	bf, err := ReadBackfill(path, size)
	require.NoError(t, err)

	// 1 synthesized clear + the clear event + 10 tail events.
	require.Len(t, bf.Events, 12)
	total := 0
	for _, ev := range bf.Events {
		total += len(ev.Payload)
	}
	assert.Less(t, total, 64*1024, "backfill must be bounded by the last clear")
}
