package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn represents a single conversation turn
type Turn struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolOutput string                 `json:"tool_output,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Store manages conversation persistence using one JSONL file per session
type Store struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// New creates a new Store
func New(sessionsDir string) (*Store, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".ai-assistant", "sessions")
	}

	// Create sessions directory if it doesn't exist
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// ValidateSessionID validates a session ID for use as a file name
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

// getSessionPath returns the file path for a session
func (s *Store) getSessionPath(sessionID string) string {
	return filepath.Join(s.sessionsDir, sessionID+".jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	sessions, err := s.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

// getWriteLock gets or creates a write lock for a session
func (s *Store) getWriteLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

// releaseWriteLock releases a write lock for a session
func (s *Store) releaseWriteLock(sessionID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, sessionID)
}

// validateTurn checks turn fields before persisting
func validateTurn(turn Turn) error {
	switch turn.Role {
	case RoleUser, RoleAssistant:
		if turn.Content == "" {
			return fmt.Errorf("turn content cannot be empty for role %s", turn.Role)
		}
	case RoleTool:
		if turn.ToolName == "" {
			return fmt.Errorf("tool turn requires tool_name")
		}
	default:
		return fmt.Errorf("invalid turn role: %q", turn.Role)
	}
	return nil
}

// Append appends a turn to a session, creating the session file on first use
func (s *Store) Append(sessionID string, turn Turn) error {
	return s.AppendWithContext(context.Background(), sessionID, turn)
}

// AppendWithContext appends a turn to a session with tracing context.
func (s *Store) AppendWithContext(ctx context.Context, sessionID string, turn Turn) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"assistant.session",
		"session.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", turn.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := validateTurn(turn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	// Serialize writers for this session
	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := s.getSessionPath(sessionID)

	created := false
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(sessionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}

	// Sync to disk
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if created {
		s.updateActiveSessionsMetric()
		logger.Info().Msg("Session created")
	}

	logger.Debug().
		Str("role", turn.Role).
		Msg("Turn appended")

	return nil
}

// History loads all turns from a session. Unknown sessions yield an empty history.
func (s *Store) History(sessionID string) ([]Turn, error) {
	return s.HistoryWithContext(context.Background(), sessionID)
}

// HistoryWithContext loads all turns from a session with tracing context.
func (s *Store) HistoryWithContext(ctx context.Context, sessionID string) ([]Turn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"assistant.session",
		"session.history",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sessionPath := s.getSessionPath(sessionID)

	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		logger.Debug().Msg("Session does not exist")
		return []Turn{}, nil
	}

	file, err := os.Open(sessionPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	turns := []Turn{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if validateTurn(turn) != nil {
			logger.Warn().
				Int("line", lineNum).
				Msg("Invalid turn, skipping")
			continue
		}

		turns = append(turns, turn)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().
		Int("turns", len(turns)).
		Msg("Session loaded")

	return turns, nil
}

// Clear removes a session's history. Clearing an unknown session succeeds.
func (s *Store) Clear(sessionID string) error {
	return s.ClearWithContext(context.Background(), sessionID)
}

// ClearWithContext removes a session's history with tracing context.
func (s *Store) ClearWithContext(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"assistant.session",
		"session.clear",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Wait for any in-progress writes
	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := s.getSessionPath(sessionID)

	if err := os.Remove(sessionPath); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.releaseWriteLock(sessionID)
	s.updateActiveSessionsMetric()

	logger.Info().Msg("Session cleared")

	return nil
}

// List lists all available sessions
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessionID := strings.TrimSuffix(name, ".jsonl")
		sessions = append(sessions, sessionID)
	}

	return sessions, nil
}

// Repair rewrites a session file keeping only parseable turns
func (s *Store) Repair(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	// History skips corrupted lines
	turns, err := s.History(sessionID)
	if err != nil {
		return err
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := s.getSessionPath(sessionID)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	// Atomic replace
	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Int("turns", len(turns)).
		Msg("Session repaired")

	return nil
}

// Replace atomically rewrites a session's history with the given turns
func (s *Store) Replace(sessionID string, turns []Turn) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := s.getSessionPath(sessionID)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

// Info returns metadata about a session
func (s *Store) Info(sessionID string) (map[string]interface{}, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	sessionPath := s.getSessionPath(sessionID)

	info, err := os.Stat(sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session does not exist")
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	turns, err := s.History(sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionId":    sessionID,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"turnCount":    len(turns),
	}, nil
}

// Dir returns the directory holding session files
func (s *Store) Dir() string {
	return s.sessionsDir
}

// Close closes the session store
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("Session store closed")

	return nil
}
