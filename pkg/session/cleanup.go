package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultCleanupAge = 7 * 24 * time.Hour // 7 days
	DefaultMaxTurns   = 500
)

// Cleanup prunes oversized active sessions and deletes old archived sessions
type Cleanup struct {
	store      *Store
	archiveDir string
	cleanupAge time.Duration
	maxTurns   int
	stopCh     chan struct{}
	running    bool
}

// NewCleanup creates a new session cleanup handler
func NewCleanup(store *Store, archiveDir string, cleanupAge time.Duration) *Cleanup {
	if cleanupAge == 0 {
		cleanupAge = DefaultCleanupAge
	}

	return &Cleanup{
		store:      store,
		archiveDir: archiveDir,
		cleanupAge: cleanupAge,
		maxTurns:   DefaultMaxTurns,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the cleanup handler
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	c.running = true
	go c.run()

	log.Info().
		Dur("cleanup_age", c.cleanupAge).
		Msg("Session cleanup started")

	return nil
}

// Stop stops the cleanup handler
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}

	close(c.stopCh)
	c.running = false

	log.Info().Msg("Session cleanup stopped")

	return nil
}

// run is the main cleanup loop
func (c *Cleanup) run() {
	ticker := time.NewTicker(24 * time.Hour) // Check daily
	defer ticker.Stop()

	// Run immediately on start
	if err := c.CleanupNow(); err != nil {
		log.Error().Err(err).Msg("Failed to cleanup sessions")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.CleanupNow(); err != nil {
				log.Error().Err(err).Msg("Failed to cleanup sessions")
			}
		case <-c.stopCh:
			return
		}
	}
}

// CleanupNow prunes active sessions and deletes expired archive files
func (c *Cleanup) CleanupNow() error {
	sessions, err := c.store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, sessionID := range sessions {
		if err := c.pruneSession(sessionID); err != nil {
			log.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Failed to prune session")
		}
	}

	return c.deleteExpiredArchives()
}

// pruneSession keeps only the most recent turns of an oversized session
func (c *Cleanup) pruneSession(sessionID string) error {
	if c.maxTurns <= 0 {
		return nil
	}

	turns, err := c.store.History(sessionID)
	if err != nil {
		return err
	}

	if len(turns) <= c.maxTurns {
		return nil
	}

	pruned := turns[len(turns)-c.maxTurns:]
	if err := c.store.Replace(sessionID, pruned); err != nil {
		return err
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("from_turns", len(turns)).
		Int("to_turns", len(pruned)).
		Msg("Session pruned")

	return nil
}

// deleteExpiredArchives removes archived session files older than cleanupAge
func (c *Cleanup) deleteExpiredArchives() error {
	if c.archiveDir == "" {
		return nil
	}

	entries, err := os.ReadDir(c.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read archive directory: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		age := now.Sub(info.ModTime())
		if age >= c.cleanupAge {
			path := filepath.Join(c.archiveDir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Error().
					Str("file", entry.Name()).
					Err(err).
					Msg("Failed to delete archived session")
				continue
			}
			deleted++

			log.Debug().
				Str("file", entry.Name()).
				Dur("age", age).
				Msg("Archived session deleted")
		}
	}

	if deleted > 0 {
		log.Info().
			Int("deleted", deleted).
			Msg("Cleaned up old archived sessions")
	}

	return nil
}

// IsRunning returns whether the cleanup is running
func (c *Cleanup) IsRunning() bool {
	return c.running
}

// GetCleanupAge returns the cleanup age
func (c *Cleanup) GetCleanupAge() time.Duration {
	return c.cleanupAge
}

// SetCleanupAge sets the cleanup age
func (c *Cleanup) SetCleanupAge(age time.Duration) {
	c.cleanupAge = age
	log.Info().Dur("cleanup_age", age).Msg("Cleanup age updated")
}

// GetMaxTurns returns max turns retained per session after pruning.
func (c *Cleanup) GetMaxTurns() int {
	return c.maxTurns
}

// SetMaxTurns sets max turns retained per session after pruning.
func (c *Cleanup) SetMaxTurns(maxTurns int) {
	c.maxTurns = maxTurns
	log.Info().Int("max_turns", maxTurns).Msg("Session pruning max turns updated")
}
