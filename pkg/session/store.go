package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rakha/easel/pkg/loop"
)

// Record is the persisted outcome of one run.
type Record struct {
	SessionKey    string     `json:"session_key"`
	Task          string     `json:"task"`
	State         loop.State `json:"state"`
	Response      string     `json:"response,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Iterations    int        `json:"iterations"`
	TokensUsed    int        `json:"tokens_used"`
	CanvasVersion int        `json:"canvas_version"`
	ElementIDs    []string   `json:"element_ids,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Store persists run records as one JSON file per session under a
// directory. Session keys double as file names, so they are validated
// against path traversal.
type Store struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".easel", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "session_store").Logger(),
	}, nil
}

func validateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save writes the record for a session, replacing any previous one. The
// write is atomic so a crash never leaves a truncated record.
func (s *Store) Save(record Record) error {
	if err := validateSessionKey(record.SessionKey); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(record.SessionKey) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, s.path(record.SessionKey)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record: %w", err)
	}

	s.logger.Debug().Str("session_key", record.SessionKey).Str("state", string(record.State)).Msg("Record saved")
	return nil
}

// Get loads one record by session key.
func (s *Store) Get(key string) (*Record, error) {
	if err := validateSessionKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return &record, nil
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable record")
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping corrupt record")
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Cleanup removes records older than maxAge and reports how many.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, record := range records {
		if record.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(s.path(record.SessionKey)); err != nil {
			s.logger.Warn().Err(err).Str("session_key", record.SessionKey).Msg("Failed to remove record")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Expired session records removed")
	}
	return removed, nil
}
