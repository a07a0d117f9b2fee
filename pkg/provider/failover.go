package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// cooldownStep is how long a profile sits out per accumulated failure.
const cooldownStep = time.Minute

// Chain is a Provider that fails over across profiles in priority order.
// Profiles in cooldown are skipped; a profile's cooldown grows with its
// failure count and resets on success.
type Chain struct {
	factory  Factory
	logger   zerolog.Logger
	observer func(profileID string, err error)
	mu       sync.Mutex
	profiles []Profile
}

// NewChain creates a failover chain over the given profiles.
func NewChain(profiles []Profile, factory Factory, logger zerolog.Logger) (*Chain, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one provider profile is required")
	}
	if factory == nil {
		factory = &DefaultFactory{}
	}
	return &Chain{
		factory:  factory,
		logger:   logger.With().Str("component", "provider-chain").Logger(),
		profiles: append([]Profile(nil), profiles...),
	}, nil
}

// Name returns the chain identifier.
func (c *Chain) Name() string {
	return "chain"
}

// SetObserver installs a callback invoked once per profile attempt with a
// nil error on success. Intended for metrics.
func (c *Chain) SetObserver(observer func(profileID string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = observer
}

func (c *Chain) observe(profileID string, err error) {
	c.mu.Lock()
	observer := c.observer
	c.mu.Unlock()
	if observer != nil {
		observer(profileID, err)
	}
}

// Generate tries each eligible profile in priority order until one
// succeeds. Non-retryable errors abort the chain immediately.
func (c *Chain) Generate(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	profiles := append([]Profile(nil), c.profiles...)
	c.mu.Unlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	var lastErr error
	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			c.logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		prov, err := c.factory.New(profile)
		if err != nil {
			c.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		resp, err := prov.Generate(ctx, req)
		c.observe(profile.ID, err)
		if err == nil {
			c.markSuccess(profile.ID)
			return resp, nil
		}

		lastErr = err
		c.markFailure(profile.ID)
		c.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Provider profile failed")

		if !IsRetryable(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no eligible provider profile")
	}
	return nil, fmt.Errorf("all provider profiles failed: %w", lastErr)
}

func (c *Chain) markSuccess(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount = 0
			c.profiles[i].CooldownUntil = nil
			return
		}
	}
}

func (c *Chain) markFailure(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount++
			until := time.Now().Add(cooldownStep * time.Duration(c.profiles[i].FailureCount)).UnixMilli()
			c.profiles[i].CooldownUntil = &until
			return
		}
	}
}
