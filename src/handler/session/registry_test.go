package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcast/termcast-api/src/lib/apierr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func createSession(t *testing.T, m *Manager, command ...string) *Info {
	t.Helper()
	info, err := m.Create(&Info{Command: command, Cols: 80, Rows: 24})
	require.NoError(t, err)
	return info
}

func TestCreateAssignsIDAndPersists(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "sleep", "30")
	require.NotEmpty(t, info.ID)

	sess, err := m.Session(info.ID)
	require.NoError(t, err)
	loaded, err := sess.LoadInfo()
	require.NoError(t, err)
	assert.Equal(t, info.ID, loaded.ID)
	assert.Equal(t, []string{"sleep", "30"}, loaded.Command)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Greater(t, loaded.Pid, 0)
}

func TestCreateRejectsEmptyCommand(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(&Info{})
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidRequest, apierr.KindOf(err))
}

func TestListAndGetReflectExit(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "echo", "done")

	waitFor(t, 5*time.Second, func() bool {
		summary, err := m.Get(info.ID)
		return err == nil && summary.Status == StatusExited
	})

	summary, err := m.Get(info.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.ExitCode)
	assert.Equal(t, 0, *summary.ExitCode)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get("no-such-session")
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestZombieSessionCorrectedOnRead(t *testing.T) {
	m := newTestManager(t)

	// Simulate a session directory left behind by a crashed server: status
	// says running but the pid is long dead.
	sess := newSession(m.Root(), "zombie-1")
	require.NoError(t, os.MkdirAll(sess.Path(), 0755))
	require.NoError(t, sess.SaveInfo(&Info{
		ID:        "zombie-1",
		Command:   []string{"sleep", "999"},
		Status:    StatusRunning,
		Pid:       99999999,
		StartedAt: time.Now().Add(-time.Hour),
	}))

	summary, err := m.Get("zombie-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExited, summary.Status)

	// The correction is persisted, not just reported.
	loaded, err := sess.LoadInfo()
	require.NoError(t, err)
	assert.Equal(t, StatusExited, loaded.Status)
}

func TestRenameIsLastWriterWins(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "sleep", "30")

	require.NoError(t, m.Rename(info.ID, "first"))
	require.NoError(t, m.Rename(info.ID, "second"))

	summary, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", summary.Name)
}

func TestRenameCollisionIsConflict(t *testing.T) {
	m := newTestManager(t)
	a := createSession(t, m, "sleep", "30")
	b := createSession(t, m, "sleep", "30")

	require.NoError(t, m.Rename(a.ID, "taken"))
	err := m.Rename(b.ID, "taken")
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))
}

func TestDeleteRequiresExitUnlessForced(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "sleep", "30")

	err := m.Delete(info.ID, false, time.Second)
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	require.NoError(t, m.Delete(info.ID, true, time.Second))
	_, err = m.Get(info.ID)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	_, statErr := os.Stat(filepath.Join(m.Root(), info.ID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanupExitedHonorsAge(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "echo", "bye")
	waitFor(t, 5*time.Second, func() bool {
		summary, err := m.Get(info.ID)
		return err == nil && summary.Status == StatusExited
	})

	// Too young to be reaped.
	assert.Empty(t, m.CleanupExited(time.Hour))

	deleted := m.CleanupExited(0)
	assert.Equal(t, []string{info.ID}, deleted)
}

func TestPTYLookup(t *testing.T) {
	m := newTestManager(t)
	info := createSession(t, m, "sleep", "30")

	p, err := m.PTY(info.ID)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = m.PTY("missing")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	_, err = p.Kill(time.Second)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool {
		_, err := m.PTY(info.ID)
		return apierr.KindOf(err) == apierr.KindSessionGone
	})
}
