// Package automation drives unattended competition creation. It is a plain
// circuit breaker around the manager's create path: repeated failures trip it
// open and an operator has to close it again.
package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenwars/internal/competition"
	"tokenwars/internal/models"
	"tokenwars/internal/notify"
	"tokenwars/internal/repository"
	"tokenwars/internal/scheduler"
)

// Creator is the slice of the competition manager the policy needs.
type Creator interface {
	CreateAutomated(ctx context.Context, params competition.CreateParams) (*models.Competition, error)
	ActiveCount() int
}

// SwitchStore persists the enabled flag so a tripped breaker survives
// restarts.
type SwitchStore interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
	SetEnabled(ctx context.Context, key string, enabled bool) error
}

// SwitchKey is the system-settings key holding the enabled flag.
const SwitchKey = "automation_enabled"

type Config struct {
	Enabled            bool
	MaxConcurrent      int
	AutoCreateInterval time.Duration
	MaxFailures        int
	PairCooldown       time.Duration
}

// Status is a read-only snapshot for the admin endpoint.
type Status struct {
	Enabled        bool       `json:"enabled"`
	FailureCount   int        `json:"failure_count"`
	MaxFailures    int        `json:"max_failures"`
	MaxConcurrent  int        `json:"max_concurrent"`
	LastCreatedAt  *time.Time `json:"last_created_at,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
}

type Policy struct {
	Repo     repository.Repository
	Manager  Creator
	Switches SwitchStore
	Hub      *notify.Hub
	Sched    scheduler.Scheduler
	Logger   *zap.Logger
	Config   Config

	mu             sync.Mutex
	enabled        bool
	initialized    bool
	inFlight       bool
	failureCount   int
	lastCreated    time.Time
	disabledReason string
}

// Init loads the persisted enabled flag, falling back to the configured
// default.
func (p *Policy) Init(ctx context.Context) {
	if p == nil {
		return
	}
	enabled := p.Config.Enabled
	if p.Switches != nil {
		enabled = p.Switches.IsEnabled(ctx, SwitchKey, enabled)
	}
	p.mu.Lock()
	p.enabled = enabled
	p.initialized = true
	p.mu.Unlock()
}

// Enable closes the breaker and resets the failure count.
func (p *Policy) Enable(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	p.enabled = true
	p.initialized = true
	p.failureCount = 0
	p.disabledReason = ""
	p.mu.Unlock()
	if p.Switches != nil {
		if err := p.Switches.SetEnabled(ctx, SwitchKey, true); err != nil {
			return err
		}
	}
	if p.Hub != nil {
		p.Hub.Publish(notify.Event{Type: notify.EventAutomationEnabled})
	}
	if p.Logger != nil {
		p.Logger.Info("automation enabled")
	}
	return nil
}

// Disable opens the breaker.
func (p *Policy) Disable(ctx context.Context, reason string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	p.enabled = false
	p.initialized = true
	p.disabledReason = reason
	p.mu.Unlock()
	// the alert goes out before the flag is persisted: the breaker usually
	// trips during an outage, exactly when SetEnabled is most likely to fail
	if p.Hub != nil {
		p.Hub.Publish(notify.Event{
			Type: notify.EventAutomationDisabled,
			Data: map[string]any{"reason": reason},
		})
	}
	if p.Logger != nil {
		p.Logger.Warn("automation disabled", zap.String("reason", reason))
	}
	if p.Switches != nil {
		if err := p.Switches.SetEnabled(ctx, SwitchKey, false); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the breaker state.
func (p *Policy) Status() Status {
	if p == nil {
		return Status{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Enabled:        p.enabled,
		FailureCount:   p.failureCount,
		MaxFailures:    p.maxFailuresLocked(),
		MaxConcurrent:  p.Config.MaxConcurrent,
		DisabledReason: p.disabledReason,
	}
	if !p.lastCreated.IsZero() {
		at := p.lastCreated
		st.LastCreatedAt = &at
	}
	return st
}

// Tick runs one automation check. Wired as a cron job; every outcome is
// absorbed here so the job never kills the scheduler.
func (p *Policy) Tick(ctx context.Context) {
	if p == nil || p.Manager == nil || p.Repo == nil {
		return
	}
	p.mu.Lock()
	if !p.initialized {
		p.enabled = p.Config.Enabled
		p.initialized = true
	}
	if !p.enabled || p.inFlight {
		p.mu.Unlock()
		return
	}
	now := p.now()
	if !p.lastCreated.IsZero() && now.Sub(p.lastCreated) < p.Config.AutoCreateInterval {
		p.mu.Unlock()
		return
	}
	// hold the slot so a cron firing that lands mid-create does not pass the
	// same gates and create a second competition
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if max := p.Config.MaxConcurrent; max > 0 && p.Manager.ActiveCount() >= max {
		return
	}

	if err := p.attemptCreate(ctx, now); err != nil {
		p.recordFailure(ctx, err)
		return
	}
	p.mu.Lock()
	p.failureCount = 0
	p.lastCreated = now
	p.mu.Unlock()
}

func (p *Policy) attemptCreate(ctx context.Context, now time.Time) error {
	pick, err := p.selectPair(ctx, now)
	if err != nil {
		return err
	}
	params := competition.CreateParams{
		TokenA: competition.TokenInfo{
			Address: pick.TokenAAddress,
			Symbol:  pick.TokenASymbol,
			Name:    pick.TokenAName,
		},
		TokenB: competition.TokenInfo{
			Address: pick.TokenBAddress,
			Symbol:  pick.TokenBSymbol,
			Name:    pick.TokenBName,
		},
	}
	comp, err := p.Manager.CreateAutomated(ctx, params)
	if err != nil {
		return err
	}
	if err := p.Repo.MarkTokenPairUsed(ctx, pick.ID, now); err != nil && p.Logger != nil {
		p.Logger.Warn("failed to mark pair used",
			zap.Uint64("pair_id", pick.ID),
			zap.Error(err))
	}
	if p.Logger != nil {
		p.Logger.Info("automated competition created",
			zap.String("competition_id", comp.ID),
			zap.Uint64("pair_id", pick.ID))
	}
	return nil
}

// selectPair ranks active pairs by compatibility score, pushing anything used
// within the cooldown to the back of the line.
func (p *Policy) selectPair(ctx context.Context, now time.Time) (*models.TokenPair, error) {
	pairs, err := p.Repo.ListTokenPairs(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list token pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no active token pairs")
	}
	cooldown := p.Config.PairCooldown
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	fresh := make([]models.TokenPair, 0, len(pairs))
	cooled := make([]models.TokenPair, 0, len(pairs))
	for _, pair := range pairs {
		if pair.LastUsedAt != nil && now.Sub(*pair.LastUsedAt) < cooldown {
			cooled = append(cooled, pair)
		} else {
			fresh = append(fresh, pair)
		}
	}
	byScore := func(items []models.TokenPair) {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CompatibilityScore > items[j].CompatibilityScore
		})
	}
	byScore(fresh)
	byScore(cooled)
	if len(fresh) > 0 {
		return &fresh[0], nil
	}
	return &cooled[0], nil
}

func (p *Policy) recordFailure(ctx context.Context, cause error) {
	p.mu.Lock()
	p.failureCount++
	count := p.failureCount
	limit := p.maxFailuresLocked()
	p.mu.Unlock()

	if p.Logger != nil {
		p.Logger.Warn("automated creation failed",
			zap.Int("failure_count", count),
			zap.Int("max_failures", limit),
			zap.Error(cause))
	}
	if count >= limit {
		_ = p.Disable(ctx, fmt.Sprintf("%d consecutive creation failures, last: %v", count, cause))
	}
}

func (p *Policy) maxFailuresLocked() int {
	if p.Config.MaxFailures > 0 {
		return p.Config.MaxFailures
	}
	return 5
}

func (p *Policy) now() time.Time {
	if p.Sched != nil {
		return p.Sched.Now()
	}
	return time.Now().UTC()
}
