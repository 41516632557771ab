package remote

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/lib/apierr"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// healthInterval is how often each remote is probed.
	healthInterval = 10 * time.Second

	// healthTimeout bounds one health probe.
	healthTimeout = 5 * time.Second

	// healthFailureThreshold marks a remote unhealthy after this many
	// consecutive failures. Recovery is automatic on the next success.
	healthFailureThreshold = 3
)

// Remote is a registered session-hosting instance.
type Remote struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Token         string    `json:"-"`
	Healthy       bool      `json:"healthy"`
	SessionCount  int       `json:"sessionCount"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`

	failures int
}

// Registry is the HQ-side set of remotes with liveness tracking and a
// session→remote routing map.
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]*Remote
	routes  map[string]string // sessionID -> remoteID

	client *http.Client
	stopCh chan struct{}
	once   sync.Once
}

// NewRegistry creates the remote registry and starts its health loop.
func NewRegistry() *Registry {
	r := &Registry{
		remotes: make(map[string]*Remote),
		routes:  make(map[string]string),
		client:  &http.Client{Timeout: healthTimeout},
		stopCh:  make(chan struct{}),
	}
	go r.healthLoop()
	return r
}

// Register adds or replaces a remote. Re-registration with the same id
// refreshes the URL and token.
func (r *Registry) Register(id, name, url, token string) error {
	if id == "" || url == "" {
		return apierr.New(apierr.KindInvalidRequest, "remote id and url are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[id] = &Remote{
		ID:           id,
		Name:         name,
		URL:          url,
		Token:        token,
		Healthy:      true,
		RegisteredAt: time.Now(),
	}
	logrus.WithFields(logrus.Fields{"remote": id, "url": url}).Info("Registered remote")
	return nil
}

// Unregister removes a remote and its routes.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, id)
	for sid, rid := range r.routes {
		if rid == id {
			delete(r.routes, sid)
		}
	}
}

// List returns all registered remotes.
func (r *Registry) List() []Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		out = append(out, *rem)
	}
	return out
}

// Get resolves a remote by id, requiring it to be healthy.
func (r *Registry) Get(id string) (*Remote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.remotes[id]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "remote %s not registered", id)
	}
	if !rem.Healthy {
		return nil, apierr.New(apierr.KindRemoteUnavailable, "remote %s is unhealthy", id)
	}
	copied := *rem
	return &copied, nil
}

// RouteFor resolves the remote owning a session, from the routing map
// populated by session listings and creations.
func (r *Registry) RouteFor(sessionID string) (*Remote, bool) {
	r.mu.RLock()
	remoteID, ok := r.routes[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rem, err := r.Get(remoteID)
	if err != nil {
		// Route exists but the remote is down: the caller must surface
		// RemoteUnavailable rather than falling back to local lookup.
		r.mu.RLock()
		stale := r.remotes[remoteID]
		r.mu.RUnlock()
		if stale != nil {
			copied := *stale
			return &copied, true
		}
		return nil, false
	}
	return rem, true
}

// AddRoute records that a session lives on a remote.
func (r *Registry) AddRoute(sessionID, remoteID string) {
	r.mu.Lock()
	r.routes[sessionID] = remoteID
	r.mu.Unlock()
}

// DropRoute forgets a session's route (after deletion).
func (r *Registry) DropRoute(sessionID string) {
	r.mu.Lock()
	delete(r.routes, sessionID)
	r.mu.Unlock()
}

// ListSessions aggregates session summaries from all healthy remotes,
// tagging each with its remoteId and refreshing the routing map. Unhealthy
// remotes' sessions are hidden until they recover.
func (r *Registry) ListSessions() []session.Summary {
	var all []session.Summary
	for _, rem := range r.List() {
		if !rem.Healthy {
			continue
		}
		summaries, err := r.fetchSessions(&rem)
		if err != nil {
			logrus.WithField("remote", rem.ID).Warnf("Failed to list remote sessions: %v", err)
			continue
		}
		r.mu.Lock()
		if cur, ok := r.remotes[rem.ID]; ok {
			cur.SessionCount = len(summaries)
		}
		for i := range summaries {
			summaries[i].RemoteID = rem.ID
			r.routes[summaries[i].ID] = rem.ID
		}
		r.mu.Unlock()
		all = append(all, summaries...)
	}
	return all
}

func (r *Registry) fetchSessions(rem *Remote) ([]session.Summary, error) {
	req, err := http.NewRequest(http.MethodGet, rem.URL+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	if rem.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rem.Token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var summaries []session.Summary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// CreateSession creates a session on a remote and records its route. The
// remote is authoritative for the created session.
func (r *Registry) CreateSession(rem *Remote, body interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, rem.URL+"/api/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if rem.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rem.Token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", apierr.Wrap(apierr.KindRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apierr.Wrap(apierr.KindRemoteUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apierr.New(apierr.KindRemoteUnavailable, "remote %s returned status %d: %s", rem.ID, resp.StatusCode, string(respBody))
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", apierr.Wrap(apierr.KindInternal, err)
	}
	r.AddRoute(created.SessionID, rem.ID)
	return created.SessionID, nil
}

func (r *Registry) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, rem := range r.List() {
				r.probe(rem.ID)
			}
		case <-r.stopCh:
			return
		}
	}
}

// probe performs one health check and updates liveness state.
func (r *Registry) probe(id string) {
	r.mu.RLock()
	rem, ok := r.remotes[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	req, err := http.NewRequest(http.MethodGet, rem.URL+"/api/health", nil)
	if err != nil {
		return
	}
	if rem.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rem.Token)
	}
	resp, err := r.client.Do(req)
	healthy := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok = r.remotes[id]
	if !ok {
		return
	}
	if healthy {
		if !rem.Healthy {
			logrus.WithField("remote", id).Info("Remote recovered")
		}
		rem.failures = 0
		rem.Healthy = true
		rem.LastHeartbeat = time.Now()
		return
	}
	rem.failures++
	if rem.failures >= healthFailureThreshold && rem.Healthy {
		rem.Healthy = false
		logrus.WithField("remote", id).Warnf("Remote marked unhealthy after %d failed probes", rem.failures)
	}
}

// Close stops the health loop.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stopCh) })
}
