package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "assistant.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("creates missing parent directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "assistant.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "assistant.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	line := []byte("hello from the rotating writer\n")
	n, err := rw.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello from the rotating writer")
}

func TestRotatingWriterRotatesAtLimit(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "assistant.log")

	// 0 MB limit: any write beyond the first triggers a rotation
	rw, err := NewRotatingWriter(logFile, 0, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	chunk := make([]byte, 200)
	for i := range chunk {
		chunk[i] = 'x'
	}

	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "assistant.log.*"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
}

func TestRotatingWriterClose(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "assistant.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	assert.NoError(t, rw.Close())
}

func TestCompressRotated(t *testing.T) {
	target := filepath.Join(t.TempDir(), "assistant.log.20260101-000000")
	require.NoError(t, os.WriteFile(target, []byte("archived lines"), 0644))

	require.NoError(t, compressRotated(target))

	_, err := os.Stat(target + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveExpired(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "assistant.log")

	stale := logFile + ".20200101-120000"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	tenDaysAgo := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, tenDaysAgo, tenDaysAgo))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	rw.removeExpired()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
