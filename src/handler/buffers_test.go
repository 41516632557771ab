package handler_test

import (
	"encoding/binary"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func dialWS(t *testing.T, s *testStack, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBuffersWSSubscribeDeliversSnapshot(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"echo", "ws-snapshot"}})
	s.waitExited(t, id)

	conn := dialWS(t, s, "/buffers")
	require.NoError(t, conn.WriteJSON(map[string]string{"op": "subscribe", "sessionId": id}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	// Tagged frame: magic, id length, session id, VTCB payload.
	require.Greater(t, len(frame), 3+len(id)+16)
	assert.Equal(t, byte(0xBF), frame[0])
	idLen := int(binary.LittleEndian.Uint16(frame[1:3]))
	require.Equal(t, len(id), idLen)
	assert.Equal(t, id, string(frame[3:3+idLen]))
	assert.Equal(t, "VTCB", string(frame[3+idLen:7+idLen]))
}

func TestBuffersWSPingPong(t *testing.T) {
	s := newStack(t, false)
	conn := dialWS(t, s, "/buffers")

	require.NoError(t, conn.WriteJSON(map[string]string{"op": "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var reply map[string]string
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply["op"])
}

func TestBuffersWSUnknownSessionSendsError(t *testing.T) {
	s := newStack(t, false)
	conn := dialWS(t, s, "/buffers")

	require.NoError(t, conn.WriteJSON(map[string]string{"op": "subscribe", "sessionId": "missing"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var reply map[string]string
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["op"])
	assert.Equal(t, "missing", reply["sessionId"])
}

func TestInputWSWritesAndResizes(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"cat"}})

	conn := dialWS(t, s, "/ws/input?sessionId="+id)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"op": "input", "data": "over-websocket\n"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"op": "resize", "rows": 40, "cols": 120}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack["op"])

	// The input must land in the recording as an input event.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := s.registry.Session(id)
		require.NoError(t, err)
		if data, err := readFile(sess.StreamOutPath()); err == nil && strings.Contains(data, "over-websocket") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("input never reached the recording")
}

func TestInputWSRequiresSession(t *testing.T) {
	s := newStack(t, false)
	resp, err := http.Get(s.server.URL + "/ws/input")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(s.server.URL + "/ws/input?sessionId=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
