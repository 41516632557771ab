package handler_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcast/termcast-api/src/api"
	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/stream"
	"github.com/termcast/termcast-api/src/handler/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type testStack struct {
	server   *httptest.Server
	registry *session.Manager
	remotes  *remote.Registry
}

// newStack boots a full server over a temp control directory. With hq, the
// federation endpoints and proxying are enabled.
func newStack(t *testing.T, hq bool) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	watcher, err := stream.NewWatcher(registry)
	require.NoError(t, err)
	buffers := term.NewManager(registry, watcher)

	var remotes *remote.Registry
	if hq {
		remotes = remote.NewRegistry()
	}

	router := api.SetupRouter(api.Deps{
		Registry: registry,
		Watcher:  watcher,
		Buffers:  buffers,
		Remotes:  remotes,
	}, true, false)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		buffers.Close()
		watcher.Close()
		registry.Shutdown()
		if remotes != nil {
			remotes.Close()
		}
	})
	return &testStack{server: server, registry: registry, remotes: remotes}
}

func (s *testStack) request(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func (s *testStack) createSession(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	resp, data := s.request(t, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created.SessionID)
	return created.SessionID
}

func (s *testStack) waitExited(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, data := s.request(t, http.MethodGet, "/api/sessions/"+id, nil)
		var summary session.Summary
		if json.Unmarshal(data, &summary) == nil && summary.Status == session.StatusExited {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session %s did not exit", id)
}

func TestCreateGetListDeleteRoundTrip(t *testing.T) {
	s := newStack(t, false)

	id := s.createSession(t, map[string]interface{}{"command": []string{"echo", "hello"}})
	s.waitExited(t, id)

	resp, data := s.request(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary session.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, id, summary.ID)
	assert.Equal(t, []string{"echo", "hello"}, summary.Command)
	require.NotNil(t, summary.ExitCode)
	assert.Equal(t, 0, *summary.ExitCode)

	resp, data = s.request(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []session.Summary
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)

	resp, _ = s.request(t, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.request(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateValidation(t *testing.T) {
	s := newStack(t, false)

	resp, data := s.request(t, http.MethodPost, "/api/sessions", map[string]interface{}{"command": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "InvalidRequest")

	resp, _ = s.request(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"command": []string{"echo"}, "rows": 50000,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRenameAndListScenario(t *testing.T) {
	s := newStack(t, false)

	id := s.createSession(t, map[string]interface{}{"command": []string{"sleep", "60"}, "name": "a"})
	resp, _ := s.request(t, http.MethodPatch, "/api/sessions/"+id, map[string]interface{}{"name": "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data := s.request(t, http.MethodGet, "/api/sessions", nil)
	var list []session.Summary
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "b", list[0].Name)
}

func TestInputTextAndKey(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"cat"}})

	resp, _ := s.request(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]interface{}{"text": "typed-text"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.request(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]interface{}{"key": "enter"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := s.request(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]interface{}{"key": "warp-drive"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "InvalidRequest")

	resp, _ = s.request(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResizeValidation(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"sleep", "60"}})

	resp, _ := s.request(t, http.MethodPost, "/api/sessions/"+id+"/resize", map[string]interface{}{"rows": 40, "cols": 120})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := s.request(t, http.MethodPost, "/api/sessions/"+id+"/resize", map[string]interface{}{"rows": 0, "cols": 80})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "InvalidRequest")
}

func TestInputToExitedSessionIsConflict(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"echo", "gone"}})
	s.waitExited(t, id)

	resp, data := s.request(t, http.MethodPost, "/api/sessions/"+id+"/input", map[string]interface{}{"text": "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(data), "SessionGone")
}

func TestSignalWhitelist(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"sleep", "60"}})

	resp, data := s.request(t, http.MethodPost, "/api/sessions/"+id+"/signal", map[string]interface{}{"signal": "KILL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "InvalidRequest")

	resp, _ = s.request(t, http.MethodPost, "/api/sessions/"+id+"/signal", map[string]interface{}{"signal": "TERM"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.waitExited(t, id)
}

func TestStreamDeliversBackfillAndExit(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"echo", "sse-hello"}})
	s.waitExited(t, id)

	resp, err := http.Get(s.server.URL + "/api/sessions/" + id + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "event: header")
	assert.Contains(t, text, "sse-hello")
	assert.Contains(t, text, "event: exit")
	assert.Contains(t, text, `"code":0`)

	headerIdx := strings.Index(text, "event: header")
	exitIdx := strings.Index(text, "event: exit")
	assert.Less(t, headerIdx, exitIdx, "header must precede exit")
}

func TestBufferSnapshotEndpoint(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"echo", "buffered"}})
	s.waitExited(t, id)

	resp, data := s.request(t, http.MethodGet, "/api/sessions/"+id+"/buffer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "VTCB", string(data[:4]))

	resp, data = s.request(t, http.MethodGet, "/api/sessions/"+id+"/buffer?format=json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "buffered")
}

func TestHealthEndpoint(t *testing.T) {
	s := newStack(t, false)
	resp, data := s.request(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestHQRoutingScenario(t *testing.T) {
	hq := newStack(t, true)
	r2 := newStack(t, false)

	// Register the remote the way a starting instance would.
	resp, _ := hq.request(t, http.MethodPost, "/api/remotes/register", map[string]interface{}{
		"id": "r2", "name": "remote-two", "url": r2.server.URL, "token": "secret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Create a session on R2 through the HQ.
	id := hq.createSession(t, map[string]interface{}{
		"command": []string{"echo", "federated"}, "remoteId": "r2",
	})
	r2.waitExited(t, id)

	// The HQ lists exactly one session, tagged with the owning remote.
	_, data := hq.request(t, http.MethodGet, "/api/sessions", nil)
	var list []session.Summary
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "r2", list[0].RemoteID)

	// Session-scoped reads proxy to the remote.
	resp, data = hq.request(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary session.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, id, summary.ID)

	// Deleting through the HQ removes the directory on the remote.
	resp, _ = hq.request(t, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = r2.request(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, data = hq.request(t, http.MethodGet, "/api/remotes", nil)
	assert.Contains(t, string(data), "remote-two")
}

func TestConcurrentSSEViewers(t *testing.T) {
	s := newStack(t, false)
	id := s.createSession(t, map[string]interface{}{"command": []string{"sleep", "2"}})

	const viewers = 5
	results := make(chan string, viewers)
	for i := 0; i < viewers; i++ {
		go func() {
			resp, err := http.Get(s.server.URL + "/api/sessions/" + id + "/stream")
			if err != nil {
				results <- fmt.Sprintf("error: %v", err)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			results <- string(body)
		}()
	}

	for i := 0; i < viewers; i++ {
		select {
		case body := <-results:
			assert.Contains(t, body, "event: header")
			assert.Contains(t, body, "event: exit")
		case <-time.After(15 * time.Second):
			t.Fatal("viewer did not finish")
		}
	}
}
