package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
)

const baseCooldown = time.Minute

// CompleterFactory builds a Completer for a profile. Tests swap it for stubs.
type CompleterFactory func(profile Profile) (Completer, error)

type poolEntry struct {
	profile       Profile
	completer     Completer
	failureCount  int
	cooldownUntil time.Time
}

// Pool routes completion requests across prioritized provider profiles.
// A failing profile enters a cooldown that grows with consecutive failures;
// retryable errors fail over to the next profile, permanent errors do not.
type Pool struct {
	entries []*poolEntry
	mu      sync.Mutex
}

// NewPool creates a failover pool from the configured profiles
func NewPool(profiles []Profile, factory CompleterFactory) (*Pool, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one provider profile is required")
	}
	if factory == nil {
		factory = NewCompleter
	}

	sorted := make([]Profile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	entries := make([]*poolEntry, 0, len(sorted))
	for _, profile := range sorted {
		completer, err := factory(profile)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
		}
		entries = append(entries, &poolEntry{profile: profile, completer: completer})
	}

	return &Pool{entries: entries}, nil
}

// Provider returns the name of the highest-priority provider
func (p *Pool) Provider() string {
	return p.entries[0].completer.Provider()
}

// Complete tries each profile in priority order until one succeeds. A
// profile's configured model overrides the request model when set.
func (p *Pool) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	attempted := false

	for _, entry := range p.entries {
		if p.inCooldown(entry) {
			observability.SetProviderCooldown(entry.profile.Provider, true)
			log.Debug().
				Str("profile_id", entry.profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}
		attempted = true
		observability.SetProviderCooldown(entry.profile.Provider, false)

		profileReq := req
		if entry.profile.Model != "" {
			profileReq.Model = entry.profile.Model
		}

		start := time.Now()
		content, err := entry.completer.Complete(ctx, profileReq)
		if err == nil {
			p.markSuccess(entry)
			observability.RecordAgentRun(entry.profile.Provider, time.Since(start), true)
			return content, nil
		}

		lastErr = err
		p.markFailure(entry)
		observability.RecordAgentRun(entry.profile.Provider, time.Since(start), false)
		log.Warn().
			Str("profile_id", entry.profile.ID).
			Err(err).
			Msg("Provider profile failed")

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsRetryableError(err) {
			return "", err
		}
	}

	if !attempted {
		return "", fmt.Errorf("all provider profiles are in cooldown")
	}

	return "", fmt.Errorf("all provider profiles failed: %w", lastErr)
}

func (p *Pool) inCooldown(entry *poolEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return time.Now().Before(entry.cooldownUntil)
}

func (p *Pool) markSuccess(entry *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.failureCount = 0
	entry.cooldownUntil = time.Time{}
	observability.SetProviderCooldown(entry.profile.Provider, false)
}

func (p *Pool) markFailure(entry *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.failureCount++
	entry.cooldownUntil = time.Now().Add(baseCooldown * time.Duration(entry.failureCount))
	observability.SetProviderCooldown(entry.profile.Provider, true)
}
