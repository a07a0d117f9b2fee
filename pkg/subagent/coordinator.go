package subagent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultRetention = 7 * 24 * time.Hour

// Coordinator tracks sub-agent runs across sessions and persists them to
// a JSON registry on disk.
type Coordinator struct {
	runs          map[string]*RunRecord
	registryPath  string
	autoSave      bool
	retention     time.Duration
	sweepSchedule string
	logger        zerolog.Logger
	mu            sync.RWMutex

	sweeper *cron.Cron
}

// Config holds coordinator configuration.
type Config struct {
	RegistryPath string
	AutoSave     bool
	Retention    time.Duration

	// SweepSchedule is a cron spec, e.g. "@hourly". When set, Initialize
	// starts the retention sweeper on it.
	SweepSchedule string

	Logger zerolog.Logger
}

// NewCoordinator creates a coordinator. The registry defaults to
// ~/.easel/subagents.json.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.RegistryPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.RegistryPath = filepath.Join(homeDir, ".easel", "subagents.json")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}

	return &Coordinator{
		runs:          make(map[string]*RunRecord),
		registryPath:  cfg.RegistryPath,
		autoSave:      cfg.AutoSave,
		retention:     cfg.Retention,
		sweepSchedule: cfg.SweepSchedule,
		logger:        cfg.Logger.With().Str("component", "subagent_coordinator").Logger(),
	}, nil
}

// Initialize loads the registry from disk and starts the retention
// sweeper when a schedule is configured. A missing or corrupt registry
// starts empty rather than failing startup.
func (c *Coordinator) Initialize() error {
	if c.sweepSchedule != "" {
		if err := c.StartRetentionSweeper(c.sweepSchedule); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.registryPath)
	if os.IsNotExist(err) {
		c.logger.Info().Msg("Registry file does not exist, starting empty")
		return nil
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read registry file")
		return nil
	}

	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		c.logger.Error().Err(err).Msg("Failed to parse registry file, starting empty")
		return nil
	}

	for _, run := range registry.Runs {
		c.runs[run.ID] = run
	}
	c.logger.Info().Int("runs", len(c.runs)).Msg("Registry loaded")
	return nil
}

// Close stops the retention sweeper and saves the registry.
func (c *Coordinator) Close() error {
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveRegistryLocked()
}

// Register records a new pending run and returns its ID.
func (c *Coordinator) Register(params RunParams) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:               runID,
		ParentSessionKey: params.ParentSessionKey,
		ChildSessionKey:  params.ChildSessionKey,
		TaskID:           params.TaskID,
		AgentType:        params.AgentType,
		Description:      params.Description,
		Status:           StatusPending,
		StartedAt:        time.Now().UnixMilli(),
		Metadata:         params.Metadata,
	}

	c.mu.Lock()
	c.runs[runID] = record
	c.saveIfAutoLocked()
	c.mu.Unlock()

	c.logger.Info().
		Str("run_id", runID).
		Str("task_id", params.TaskID).
		Str("parent_session", params.ParentSessionKey).
		Msg("Run registered")
	return runID, nil
}

// MarkRunning transitions a pending run to running.
func (c *Coordinator) MarkRunning(runID string) error {
	return c.transition(runID, StatusRunning, nil, "")
}

// MarkCompleted records a successful run and its outcome.
func (c *Coordinator) MarkCompleted(runID string, outcome *RunOutcome) error {
	return c.transition(runID, StatusCompleted, outcome, "")
}

// MarkFailed records a failed run with its error and any partial outcome.
func (c *Coordinator) MarkFailed(runID string, outcome *RunOutcome, errMsg string) error {
	return c.transition(runID, StatusFailed, outcome, errMsg)
}

// MarkAborted records a cancelled or timed-out run.
func (c *Coordinator) MarkAborted(runID string, reason string) error {
	return c.transition(runID, StatusAborted, nil, reason)
}

func (c *Coordinator) transition(runID string, status RunStatus, outcome *RunOutcome, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.runs[runID]
	if !exists {
		return fmt.Errorf("run not found: %s", runID)
	}

	record.Status = status
	if status.IsTerminal() {
		now := time.Now().UnixMilli()
		record.CompletedAt = &now
	}
	if outcome != nil {
		record.Outcome = outcome
	}
	if errMsg != "" {
		record.Error = errMsg
	}

	c.saveIfAutoLocked()
	c.logger.Info().
		Str("run_id", runID).
		Str("status", string(status)).
		Msg("Run status updated")
	return nil
}

// GetRun retrieves a run by ID.
func (c *Coordinator) GetRun(runID string) *RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runs[runID]
}

// GetRunByChildSession retrieves a run by child session key.
func (c *Coordinator) GetRunByChildSession(childSessionKey string) *RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, record := range c.runs {
		if record.ChildSessionKey == childSessionKey {
			return record
		}
	}
	return nil
}

// ListChildren returns all direct children of a parent session.
func (c *Coordinator) ListChildren(sessionKey string) []*RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	children := []*RunRecord{}
	for _, record := range c.runs {
		if record.ParentSessionKey == sessionKey {
			children = append(children, record)
		}
	}
	return children
}

// CountActive counts pending and running runs for a parent session.
func (c *Coordinator) CountActive(sessionKey string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, record := range c.runs {
		if record.ParentSessionKey == sessionKey && !record.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Stats aggregates run counts by status.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalRuns: len(c.runs)}
	for _, record := range c.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusAborted:
			stats.AbortedRuns++
		}
	}
	return stats
}

// Cleanup removes terminal runs older than the retention window.
func (c *Coordinator) Cleanup() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.retention).UnixMilli()
	removed := 0
	for runID, record := range c.runs {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && *record.CompletedAt < cutoff {
			delete(c.runs, runID)
			removed++
		}
	}

	if removed > 0 {
		c.saveIfAutoLocked()
	}
	c.logger.Info().Int("removed", removed).Msg("Cleanup completed")
	return removed, nil
}

// StartRetentionSweeper schedules Cleanup on a cron spec, e.g. "@hourly".
func (c *Coordinator) StartRetentionSweeper(spec string) error {
	if c.sweeper != nil {
		return fmt.Errorf("retention sweeper already started")
	}

	c.sweeper = cron.New()
	_, err := c.sweeper.AddFunc(spec, func() {
		if _, err := c.Cleanup(); err != nil {
			c.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		c.sweeper = nil
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.sweeper.Start()
	return nil
}

func (c *Coordinator) saveIfAutoLocked() {
	if !c.autoSave {
		return
	}
	if err := c.saveRegistryLocked(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to save registry")
	}
}

// saveRegistryLocked persists the registry with an atomic rename. Callers
// hold the write lock.
func (c *Coordinator) saveRegistryLocked() error {
	dir := filepath.Dir(c.registryPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	runs := make([]*RunRecord, 0, len(c.runs))
	for _, record := range c.runs {
		runs = append(runs, record)
	}
	registry := Registry{
		Version:     1,
		Runs:        runs,
		LastUpdated: time.Now().UnixMilli(),
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tempPath := c.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := os.Rename(tempPath, c.registryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename registry file: %w", err)
	}
	return nil
}
