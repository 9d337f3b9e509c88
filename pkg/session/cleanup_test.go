package session

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCleanup(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(filepath.Join(tempDir, "sessions"))
	require.NoError(t, err)

	cleanup := NewCleanup(store, filepath.Join(tempDir, "archive"), 7*24*time.Hour)
	assert.NotNil(t, cleanup)
	assert.Equal(t, 7*24*time.Hour, cleanup.GetCleanupAge())
	assert.Equal(t, DefaultMaxTurns, cleanup.GetMaxTurns())
}

func TestNewCleanup_DefaultAge(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(store, "", 0)
	assert.Equal(t, DefaultCleanupAge, cleanup.GetCleanupAge())
}

func TestCleanupStartStop(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(filepath.Join(tempDir, "sessions"))
	require.NoError(t, err)

	cleanup := NewCleanup(store, filepath.Join(tempDir, "archive"), 7*24*time.Hour)

	err = cleanup.Start()
	assert.NoError(t, err)
	assert.True(t, cleanup.IsRunning())

	// Give it a moment to run the initial pass
	time.Sleep(100 * time.Millisecond)

	// Starting again fails
	err = cleanup.Start()
	assert.Error(t, err)

	err = cleanup.Stop()
	assert.NoError(t, err)
	assert.False(t, cleanup.IsRunning())

	// Stopping again fails
	err = cleanup.Stop()
	assert.Error(t, err)
}

func TestCleanupDeletesExpiredArchives(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(filepath.Join(tempDir, "sessions"))
	require.NoError(t, err)

	archiveDir := filepath.Join(tempDir, "archive")
	require.NoError(t, os.MkdirAll(archiveDir, 0700))

	oldFile := filepath.Join(archiveDir, "stale.20240101-000000.jsonl")
	freshFile := filepath.Join(archiveDir, "recent.20260801-120000.jsonl")
	require.NoError(t, os.WriteFile(oldFile, []byte("{}\n"), 0600))
	require.NoError(t, os.WriteFile(freshFile, []byte("{}\n"), 0600))

	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	cleanup := NewCleanup(store, archiveDir, 24*time.Hour)

	err = cleanup.CleanupNow()
	assert.NoError(t, err)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}

func TestCleanupLeavesActiveSessionsAlone(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(filepath.Join(tempDir, "sessions"))
	require.NoError(t, err)

	require.NoError(t, store.Append("active", Turn{Role: RoleUser, Content: "hello"}))

	// Back-date the active session well past the cleanup age
	sessionPath := store.getSessionPath("active")
	oldTime := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(sessionPath, oldTime, oldTime))

	cleanup := NewCleanup(store, filepath.Join(tempDir, "archive"), 24*time.Hour)

	err = cleanup.CleanupNow()
	assert.NoError(t, err)

	// Age alone never deletes an active session; only archived files expire
	sessions, err := store.List()
	require.NoError(t, err)
	assert.Contains(t, sessions, "active")
}

func TestSetCleanupAge(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(store, "", 7*24*time.Hour)
	assert.Equal(t, 7*24*time.Hour, cleanup.GetCleanupAge())

	cleanup.SetCleanupAge(14 * 24 * time.Hour)
	assert.Equal(t, 14*24*time.Hour, cleanup.GetCleanupAge())
}

func TestCleanupPrunesLargeSessions(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(filepath.Join(tempDir, "sessions"))
	require.NoError(t, err)

	cleanup := NewCleanup(store, filepath.Join(tempDir, "archive"), 7*24*time.Hour)
	cleanup.SetMaxTurns(500)

	for i := 0; i < 1000; i++ {
		err = store.Append("session-prune", Turn{
			Role:      RoleUser,
			Content:   "msg-" + strconv.Itoa(i),
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	err = cleanup.CleanupNow()
	require.NoError(t, err)

	turns, err := store.History("session-prune")
	require.NoError(t, err)
	require.Len(t, turns, 500)
	assert.Equal(t, "msg-500", turns[0].Content)
	assert.Equal(t, "msg-999", turns[len(turns)-1].Content)
}
