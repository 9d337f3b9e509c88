package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout     = 72 * time.Hour
	DefaultArchiveSchedule = "0 3 * * *"
)

// Archiver moves idle session files into an archive directory on a cron schedule
type Archiver struct {
	store       *Store
	archiveDir  string
	idleTimeout time.Duration
	schedule    string
	cron        *cron.Cron
	entryID     cron.EntryID
	running     bool
}

// NewArchiver creates a new session archiver
func NewArchiver(store *Store, archiveDir string, idleTimeout time.Duration, schedule string) *Archiver {
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if schedule == "" {
		schedule = DefaultArchiveSchedule
	}
	if archiveDir == "" {
		archiveDir = store.Dir() + "-archive"
	}

	return &Archiver{
		store:       store,
		archiveDir:  archiveDir,
		idleTimeout: idleTimeout,
		schedule:    schedule,
		cron:        cron.New(),
	}
}

// Start schedules the archive job
func (a *Archiver) Start() error {
	if a.running {
		return fmt.Errorf("archiver is already running")
	}

	if err := os.MkdirAll(a.archiveDir, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	entryID, err := a.cron.AddFunc(a.schedule, func() {
		if _, err := a.ArchiveIdle(); err != nil {
			log.Error().Err(err).Msg("Failed to archive idle sessions")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", a.schedule, err)
	}
	a.entryID = entryID

	a.cron.Start()
	a.running = true

	log.Info().
		Str("schedule", a.schedule).
		Dur("idle_timeout", a.idleTimeout).
		Str("archive_dir", a.archiveDir).
		Msg("Session archiver started")

	return nil
}

// Stop stops the archiver
func (a *Archiver) Stop() error {
	if !a.running {
		return fmt.Errorf("archiver is not running")
	}

	ctx := a.cron.Stop()
	<-ctx.Done()
	a.running = false

	log.Info().Msg("Session archiver stopped")

	return nil
}

// ArchiveIdle moves sessions idle longer than the timeout to the archive
// directory. It returns the number of sessions archived.
func (a *Archiver) ArchiveIdle() (int, error) {
	sessions, err := a.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0

	for _, sessionID := range sessions {
		info, err := a.store.Info(sessionID)
		if err != nil {
			log.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Failed to get session info")
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		if now.Sub(lastModified) >= a.idleTimeout {
			if err := a.ArchiveNow(sessionID); err != nil {
				log.Error().
					Str("session_id", sessionID).
					Err(err).
					Msg("Failed to archive session")
				continue
			}
			archived++
		}
	}

	if archived > 0 {
		observability.RecordSessionArchived(archived)
		log.Info().
			Int("archived", archived).
			Msg("Archived idle sessions")
	}

	return archived, nil
}

// ArchiveNow immediately moves a session into the archive directory. The
// archived file name carries a timestamp so repeated session IDs never collide.
func (a *Archiver) ArchiveNow(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	if err := os.MkdirAll(a.archiveDir, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src := a.store.getSessionPath(sessionID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return fmt.Errorf("session does not exist")
	}

	// Hold the session's write lock while moving the file
	lock := a.store.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dst := filepath.Join(a.archiveDir, fmt.Sprintf("%s.%s.jsonl", sessionID, time.Now().Format("20060102-150405")))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move session to archive: %w", err)
	}

	a.store.releaseWriteLock(sessionID)
	a.store.updateActiveSessionsMetric()

	log.Info().
		Str("session_id", sessionID).
		Str("archive", dst).
		Msg("Session archived")

	return nil
}

// ListArchived returns the archived session file names
func (a *Archiver) ListArchived() ([]string, error) {
	entries, err := os.ReadDir(a.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archived []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		archived = append(archived, entry.Name())
	}

	return archived, nil
}

// IsRunning returns whether the archiver is running
func (a *Archiver) IsRunning() bool {
	return a.running
}

// GetIdleTimeout returns the idle timeout
func (a *Archiver) GetIdleTimeout() time.Duration {
	return a.idleTimeout
}

// ArchiveDir returns the archive directory path
func (a *Archiver) ArchiveDir() string {
	return a.archiveDir
}
