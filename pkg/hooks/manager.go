package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rakha/easel/pkg/toolengine"
)

// Rule blocks or caps one tool. Name matching is exact; an empty Name
// makes the rule apply to every tool.
type Rule struct {
	Name     string
	Block    bool
	MaxCalls int // calls allowed per manager lifetime, 0 means unlimited
}

// Config configures a policy manager.
type Config struct {
	Enabled bool
	Rules   []Rule
	Logger  zerolog.Logger
}

// Manager enforces tool call policy through the engine's hook points. It
// tracks per-tool call counts, so one manager instance scopes one run.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu        sync.Mutex
	rules     []Rule
	callCount map[string]int
}

// NewManager creates a policy manager.
func NewManager(cfg Config) (*Manager, error) {
	for _, rule := range cfg.Rules {
		if !rule.Block && rule.MaxCalls <= 0 {
			return nil, fmt.Errorf("rule for %q does nothing: set Block or MaxCalls", rule.Name)
		}
		if rule.MaxCalls < 0 {
			return nil, fmt.Errorf("rule for %q: MaxCalls cannot be negative", rule.Name)
		}
	}
	return &Manager{
		enabled:   cfg.Enabled,
		logger:    cfg.Logger.With().Str("component", "hooks").Logger(),
		rules:     cfg.Rules,
		callCount: make(map[string]int),
	}, nil
}

// Hooks returns the engine hook set enforcing this manager's rules.
func (m *Manager) Hooks() toolengine.Hooks {
	return toolengine.Hooks{
		Pre:  []toolengine.PreHook{m.check},
		Post: []toolengine.PostHook{m.record},
	}
}

// check vetoes calls that hit a block rule or exceed a call cap.
func (m *Manager) check(ctx context.Context, toolName string, params map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rule := range m.rules {
		if rule.Name != "" && rule.Name != toolName {
			continue
		}
		if rule.Block {
			m.logger.Warn().Str("tool", toolName).Msg("Tool call blocked by policy")
			return fmt.Errorf("tool %s is blocked by policy", toolName)
		}
		if rule.MaxCalls > 0 && m.callCount[toolName] >= rule.MaxCalls {
			m.logger.Warn().
				Str("tool", toolName).
				Int("max_calls", rule.MaxCalls).
				Msg("Tool call cap reached")
			return fmt.Errorf("tool %s exceeded its call cap of %d", toolName, rule.MaxCalls)
		}
	}
	return nil
}

// record counts successful executions toward call caps.
func (m *Manager) record(ctx context.Context, toolName string, result toolengine.Result) {
	if m == nil || !m.enabled {
		return
	}
	m.mu.Lock()
	m.callCount[toolName]++
	m.mu.Unlock()
}

// ParseRules builds rules from "name", "name:block" or "name:N" specs, the
// form the config file carries.
func ParseRules(specs []string) ([]Rule, error) {
	var rules []Rule
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("rule spec %q: tool name is required", spec)
		}

		if len(parts) == 1 || strings.TrimSpace(parts[1]) == "block" {
			rules = append(rules, Rule{Name: name, Block: true})
			continue
		}

		var max int
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &max); err != nil || max <= 0 {
			return nil, fmt.Errorf("rule spec %q: expected \"block\" or a positive call cap", spec)
		}
		rules = append(rules, Rule{Name: name, MaxCalls: max})
	}
	return rules, nil
}
