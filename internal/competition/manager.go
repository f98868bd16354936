// Package competition owns the phase state machine. Every transition is
// driven by wall-clock time alone; the manager holds exactly one pending
// timer per competition and persists every change before mutating its
// in-memory copy.
package competition

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenwars/internal/models"
	"tokenwars/internal/notify"
	"tokenwars/internal/pricefeed"
	"tokenwars/internal/repository"
	"tokenwars/internal/scheduler"
	"tokenwars/internal/twap"
)

// Tracker is the slice of the price sampler the manager needs.
type Tracker interface {
	StartTracking(addr, mode string) bool
	StopTracking(addr string) bool
}

// Settler books payouts once a competition leaves the scheduler's hands.
// A nil winner means tie: every bet is refunded.
type Settler interface {
	Settle(ctx context.Context, comp *models.Competition) error
	RefundAll(ctx context.Context, comp *models.Competition) error
}

type Config struct {
	StartDelay       time.Duration
	VotingDuration   time.Duration
	ActiveDuration   time.Duration
	ResolutionWindow time.Duration
	RetryInterval    time.Duration
	BetAmount        decimal.Decimal
	PlatformFeeBps   int
}

type Manager struct {
	Repo    repository.Repository
	Sched   scheduler.Scheduler
	Tracker Tracker
	Settler Settler
	Hub     *notify.Hub
	Logger  *zap.Logger
	Config  Config

	mu         sync.Mutex
	ctx        context.Context
	comps      map[string]*models.Competition
	timers     map[string]scheduler.Handle
	recovering bool
}

// TokenInfo describes one side of a new competition.
type TokenInfo struct {
	Address string
	Symbol  string
	Name    string
}

// CreateParams carries the token pair for a new competition. Timing is always
// derived from the manager's configured durations at creation time.
type CreateParams struct {
	TokenA TokenInfo
	TokenB TokenInfo
}

// LoadAndRecover fetches every competition still owned by the scheduler and
// either catches it up (transitions whose deadline already passed run
// immediately) or arms its next timer. Safe to call repeatedly; competitions
// that already hold a timer are left alone.
func (m *Manager) LoadAndRecover(ctx context.Context) error {
	if m == nil || m.Repo == nil || m.Sched == nil {
		return fmt.Errorf("manager is not wired")
	}
	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		return nil
	}
	m.recovering = true
	m.ensureMapsLocked()
	if m.ctx == nil {
		m.ctx = ctx
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	comps, err := m.Repo.ListCompetitionsByStatuses(ctx, models.SchedulerStatuses())
	if err != nil {
		return fmt.Errorf("failed to load competitions: %w", err)
	}

	for i := range comps {
		comp := comps[i]
		if err := validate(&comp); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("skipping corrupt competition",
					zap.String("competition_id", comp.ID),
					zap.Error(err))
			}
			continue
		}
		m.mu.Lock()
		if _, known := m.comps[comp.ID]; known {
			m.mu.Unlock()
			continue
		}
		c := comp
		m.comps[comp.ID] = &c
		m.evaluateLocked(ctx, comp.ID)
		m.mu.Unlock()
	}

	if m.Logger != nil {
		m.Logger.Info("competition recovery complete", zap.Int("loaded", len(comps)))
	}
	return nil
}

// AdvancePhase re-evaluates one competition against the clock. Timer
// callbacks land here; unknown IDs are a silent no-op (the competition was
// released while the timer was in flight).
func (m *Manager) AdvancePhase(ctx context.Context, id string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.comps[id]; !known {
		return
	}
	m.evaluateLocked(ctx, id)
}

// CreateManual creates a competition from an operator request.
func (m *Manager) CreateManual(ctx context.Context, params CreateParams) (*models.Competition, error) {
	return m.create(ctx, params, models.CreatedByManual)
}

// CreateAutomated creates a competition from the automation policy.
func (m *Manager) CreateAutomated(ctx context.Context, params CreateParams) (*models.Competition, error) {
	return m.create(ctx, params, models.CreatedByAutomated)
}

func (m *Manager) create(ctx context.Context, params CreateParams, createdBy string) (*models.Competition, error) {
	if m == nil || m.Repo == nil || m.Sched == nil {
		return nil, fmt.Errorf("manager is not wired")
	}
	if err := validateToken(params.TokenA); err != nil {
		return nil, fmt.Errorf("token A: %w", err)
	}
	if err := validateToken(params.TokenB); err != nil {
		return nil, fmt.Errorf("token B: %w", err)
	}
	if params.TokenA.Address == params.TokenB.Address {
		return nil, fmt.Errorf("tokens must differ")
	}

	now := m.Sched.Now()
	start := now.Add(m.Config.StartDelay)
	votingEnd := start.Add(m.Config.VotingDuration)
	end := votingEnd.Add(m.Config.ActiveDuration)

	comp := &models.Competition{
		ID:             uuid.NewString(),
		TokenAAddress:  params.TokenA.Address,
		TokenASymbol:   params.TokenA.Symbol,
		TokenAName:     params.TokenA.Name,
		TokenBAddress:  params.TokenB.Address,
		TokenBSymbol:   params.TokenB.Symbol,
		TokenBName:     params.TokenB.Name,
		Status:         models.StatusSetup,
		StartTime:      start,
		VotingEndTime:  votingEnd,
		EndTime:        end,
		BetAmount:      m.Config.BetAmount,
		PlatformFeeBps: m.Config.PlatformFeeBps,
		TotalPool:      decimal.Zero,
		TokenAPool:     decimal.Zero,
		TokenBPool:     decimal.Zero,
		CreatedBy:      createdBy,
	}
	if err := m.Repo.InsertCompetition(ctx, comp); err != nil {
		return nil, fmt.Errorf("failed to persist competition: %w", err)
	}

	m.mu.Lock()
	m.ensureMapsLocked()
	if m.ctx == nil {
		m.ctx = ctx
	}
	m.comps[comp.ID] = comp
	m.evaluateLocked(ctx, comp.ID)
	m.mu.Unlock()

	// warm the sample history before the performance window opens
	if m.Tracker != nil {
		for _, addr := range comp.TokenAddresses() {
			m.Tracker.StartTracking(addr, pricefeed.ModeBackground)
		}
	}
	m.publish(notify.Event{
		Type:          notify.EventCompetitionCreated,
		CompetitionID: comp.ID,
		Data: map[string]any{
			"token_a":    comp.TokenASymbol,
			"token_b":    comp.TokenBSymbol,
			"start_time": comp.StartTime,
			"end_time":   comp.EndTime,
			"created_by": createdBy,
		},
	})
	if m.Logger != nil {
		m.Logger.Info("competition created",
			zap.String("competition_id", comp.ID),
			zap.String("created_by", createdBy),
			zap.String("token_a", comp.TokenASymbol),
			zap.String("token_b", comp.TokenBSymbol))
	}
	return comp, nil
}

// Pause removes a competition from the scheduler without resolving it.
func (m *Manager) Pause(ctx context.Context, id string) (*models.Competition, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("manager is not wired")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	comp, err := m.lookupLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.StatusRank(comp.Status) < 0 {
		return nil, fmt.Errorf("cannot pause from %s", comp.Status)
	}
	updated, err := m.Repo.UpdateCompetitionStatus(ctx, id, models.StatusPaused, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to pause: %w", err)
	}
	m.stopTimerLocked(id)
	delete(m.comps, id)
	m.publish(notify.Event{Type: notify.EventCompetitionPaused, CompetitionID: id})
	return updated, nil
}

// Resume puts a paused competition back under the scheduler. The phase is
// recomputed from the stored timestamps, so a pause that outlived a deadline
// simply catches up.
func (m *Manager) Resume(ctx context.Context, id string) (*models.Competition, error) {
	if m == nil || m.Repo == nil || m.Sched == nil {
		return nil, fmt.Errorf("manager is not wired")
	}
	comp, err := m.Repo.GetCompetitionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, fmt.Errorf("competition %s not found", id)
	}
	if comp.Status != models.StatusPaused {
		return nil, fmt.Errorf("cannot resume from %s", comp.Status)
	}

	now := m.Sched.Now()
	status := models.StatusSetup
	switch {
	case now.After(comp.EndTime) || now.Equal(comp.EndTime):
		status = models.StatusClosed
	case now.After(comp.VotingEndTime) || now.Equal(comp.VotingEndTime):
		status = models.StatusActive
	case now.After(comp.StartTime) || now.Equal(comp.StartTime):
		status = models.StatusVoting
	}
	updated, err := m.Repo.UpdateCompetitionStatus(ctx, id, status, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resume: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("competition %s not found", id)
	}

	m.mu.Lock()
	m.ensureMapsLocked()
	if m.ctx == nil {
		m.ctx = ctx
	}
	m.comps[id] = updated
	m.evaluateLocked(ctx, id)
	out := m.comps[id]
	m.mu.Unlock()

	if status == models.StatusActive && m.Tracker != nil {
		for _, addr := range updated.TokenAddresses() {
			m.Tracker.StartTracking(addr, pricefeed.ModeActive)
		}
	}
	m.publish(notify.Event{Type: notify.EventCompetitionResumed, CompetitionID: id})
	if out == nil {
		// resuming past the end resolves synchronously
		return m.Repo.GetCompetitionByID(ctx, id)
	}
	copied := *out
	return &copied, nil
}

// Cancel is the operator escape hatch: the competition leaves the scheduler
// and every bet is refunded.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*models.Competition, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("manager is not wired")
	}
	comp, err := m.Repo.GetCompetitionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, fmt.Errorf("competition %s not found", id)
	}
	if models.IsTerminal(comp.Status) {
		return nil, fmt.Errorf("cannot cancel from %s", comp.Status)
	}
	updated, err := m.Repo.UpdateCompetitionStatus(ctx, id, models.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel: %w", err)
	}

	m.mu.Lock()
	m.stopTimerLocked(id)
	delete(m.comps, id)
	m.stopTrackingLocked(comp)
	m.mu.Unlock()

	if m.Settler != nil {
		if err := m.Settler.RefundAll(ctx, updated); err != nil && m.Logger != nil {
			m.Logger.Error("cancel refund failed",
				zap.String("competition_id", id),
				zap.Error(err))
		}
	}
	m.publish(notify.Event{
		Type:          notify.EventCompetitionCancelled,
		CompetitionID: id,
		Data:          map[string]any{"reason": reason},
	})
	return updated, nil
}

// Release drops a competition's timer and in-memory record without touching
// persisted state.
func (m *Manager) Release(id string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked(id)
	delete(m.comps, id)
}

// ActiveCount reports competitions currently under the scheduler.
func (m *Manager) ActiveCount() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.comps)
}

// Snapshot returns a copy of the in-memory record, if any.
func (m *Manager) Snapshot(id string) (models.Competition, bool) {
	if m == nil {
		return models.Competition{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	comp, ok := m.comps[id]
	if !ok {
		return models.Competition{}, false
	}
	return *comp, true
}

// PendingTimers reports how many phase timers are armed.
func (m *Manager) PendingTimers() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// TrackedAddresses lists the mint addresses of every competition still under
// the scheduler, for stream subscriptions and prune guards.
func (m *Manager) TrackedAddresses() []string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.comps)*2)
	for _, comp := range m.comps {
		for _, addr := range comp.TokenAddresses() {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// --- internals --------------------------------------------------------------

func (m *Manager) ensureMapsLocked() {
	if m.comps == nil {
		m.comps = map[string]*models.Competition{}
	}
	if m.timers == nil {
		m.timers = map[string]scheduler.Handle{}
	}
}

func (m *Manager) lookupLocked(ctx context.Context, id string) (*models.Competition, error) {
	m.ensureMapsLocked()
	if comp, ok := m.comps[id]; ok {
		return comp, nil
	}
	comp, err := m.Repo.GetCompetitionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, fmt.Errorf("competition %s not found", id)
	}
	return comp, nil
}

// evaluateLocked runs the transition rule for one competition: transition as
// long as deadlines have already passed, then arm a single timer for the next
// one. Persist failures keep the competition in place and retry later.
func (m *Manager) evaluateLocked(ctx context.Context, id string) {
	for {
		comp, ok := m.comps[id]
		if !ok {
			return
		}
		var target time.Time
		var next string
		switch comp.Status {
		case models.StatusSetup:
			target, next = comp.StartTime, models.StatusVoting
		case models.StatusVoting:
			target, next = comp.VotingEndTime, models.StatusActive
		case models.StatusActive:
			target, next = comp.EndTime, models.StatusClosed
		case models.StatusClosed:
			if !m.resolveLocked(ctx, id) {
				m.scheduleLocked(id, m.Sched.Now().Add(m.retryInterval()))
			}
			return
		default:
			// escaped the scheduler (paused/cancelled/resolved out of band)
			m.stopTimerLocked(id)
			delete(m.comps, id)
			return
		}

		now := m.Sched.Now()
		if now.Before(target) {
			m.scheduleLocked(id, target)
			return
		}
		if !m.transitionLocked(ctx, comp, next) {
			m.scheduleLocked(id, now.Add(m.retryInterval()))
			return
		}
	}
}

// transitionLocked persists a single forward step and only then updates the
// in-memory copy.
func (m *Manager) transitionLocked(ctx context.Context, comp *models.Competition, next string) bool {
	from := comp.Status
	updated, err := m.Repo.UpdateCompetitionStatus(ctx, comp.ID, next, nil)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("phase transition persist failed, will retry",
				zap.String("competition_id", comp.ID),
				zap.String("from", from),
				zap.String("to", next),
				zap.Error(err))
		}
		return false
	}
	if updated == nil {
		// row vanished under us; drop the competition
		m.stopTimerLocked(comp.ID)
		delete(m.comps, comp.ID)
		return false
	}
	*comp = *updated

	if next == models.StatusActive && m.Tracker != nil {
		for _, addr := range comp.TokenAddresses() {
			m.Tracker.StartTracking(addr, pricefeed.ModeActive)
		}
	}
	m.publish(notify.Event{
		Type:          notify.EventPhaseChanged,
		CompetitionID: comp.ID,
		Data:          map[string]any{"from": from, "to": next},
	})
	if m.Logger != nil {
		m.Logger.Info("competition phase changed",
			zap.String("competition_id", comp.ID),
			zap.String("from", from),
			zap.String("to", next))
	}
	return true
}

// resolveLocked computes both tokens' TWAP baselines, decides the winner and
// persists RESOLVED. Returns false when the attempt should be retried.
func (m *Manager) resolveLocked(ctx context.Context, id string) bool {
	comp, ok := m.comps[id]
	if !ok {
		return true
	}

	window := m.Config.ResolutionWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	startFrom, startTo := comp.VotingEndTime, comp.VotingEndTime.Add(window)
	endFrom, endTo := comp.EndTime.Add(-window), comp.EndTime

	outcomeA, err := m.tokenOutcome(ctx, comp.TokenAAddress, startFrom, startTo, endFrom, endTo)
	if err != nil {
		m.logResolveRetry(comp.ID, err)
		return false
	}
	outcomeB, err := m.tokenOutcome(ctx, comp.TokenBAddress, startFrom, startTo, endFrom, endTo)
	if err != nil {
		m.logResolveRetry(comp.ID, err)
		return false
	}

	var winner *string
	switch {
	case outcomeA.ok && outcomeB.ok:
		if outcomeA.performance.GreaterThan(outcomeB.performance) {
			side := models.SideTokenA
			winner = &side
		} else if outcomeB.performance.GreaterThan(outcomeA.performance) {
			side := models.SideTokenB
			winner = &side
		}
		// equal performance: winner stays nil, everyone is refunded
	case outcomeA.ok:
		side := models.SideTokenA
		winner = &side
	case outcomeB.ok:
		side := models.SideTokenB
		winner = &side
	}

	updates := map[string]any{"winner_token": winner}
	outcomeA.fill(updates, "token_a")
	outcomeB.fill(updates, "token_b")

	updated, err := m.Repo.UpdateCompetitionStatus(ctx, id, models.StatusResolved, updates)
	if err != nil {
		m.logResolveRetry(comp.ID, err)
		return false
	}
	if updated == nil {
		m.stopTimerLocked(id)
		delete(m.comps, id)
		return true
	}

	m.stopTimerLocked(id)
	delete(m.comps, id)
	m.stopTrackingLocked(updated)

	if m.Settler != nil {
		if err := m.Settler.Settle(ctx, updated); err != nil && m.Logger != nil {
			m.Logger.Error("payout settlement failed",
				zap.String("competition_id", id),
				zap.Error(err))
		}
	}

	winnerLabel := ""
	if winner != nil {
		winnerLabel = *winner
	}
	m.publish(notify.Event{
		Type:          notify.EventCompetitionResolved,
		CompetitionID: id,
		Data: map[string]any{
			"winner":        winnerLabel,
			"performance_a": perfString(outcomeA),
			"performance_b": perfString(outcomeB),
		},
	})
	if m.Logger != nil {
		m.Logger.Info("competition resolved",
			zap.String("competition_id", id),
			zap.String("winner", winnerLabel))
	}
	return true
}

type tokenOutcome struct {
	startPrice  decimal.Decimal
	endPrice    decimal.Decimal
	startBasis  twap.Basis
	endBasis    twap.Basis
	performance decimal.Decimal
	ok          bool
}

func (o tokenOutcome) fill(updates map[string]any, prefix string) {
	if o.startBasis != twap.BasisEmpty {
		updates[prefix+"_start_price"] = o.startPrice
	}
	if o.endBasis != twap.BasisEmpty {
		updates[prefix+"_end_price"] = o.endPrice
	}
	if o.ok {
		updates[prefix+"_performance"] = o.performance
	}
}

func perfString(o tokenOutcome) string {
	if !o.ok {
		return ""
	}
	return o.performance.String()
}

func (m *Manager) tokenOutcome(ctx context.Context, addr string, startFrom, startTo, endFrom, endTo time.Time) (tokenOutcome, error) {
	startSamples, err := m.windowSamples(ctx, addr, startFrom, startTo)
	if err != nil {
		return tokenOutcome{}, err
	}
	endSamples, err := m.windowSamples(ctx, addr, endFrom, endTo)
	if err != nil {
		return tokenOutcome{}, err
	}
	var out tokenOutcome
	out.startPrice, out.startBasis = twap.Compute(startSamples)
	out.endPrice, out.endBasis = twap.Compute(endSamples)
	if out.startBasis == twap.BasisEmpty || out.endBasis == twap.BasisEmpty {
		return out, nil
	}
	perf, ok := twap.Performance(out.startPrice, out.endPrice)
	if !ok {
		return out, nil
	}
	out.performance = perf
	out.ok = true
	return out, nil
}

func (m *Manager) windowSamples(ctx context.Context, addr string, from, to time.Time) ([]twap.Sample, error) {
	rows, err := m.Repo.ListPriceSamplesInWindow(ctx, addr, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load samples for %s: %w", addr, err)
	}
	samples := make([]twap.Sample, 0, len(rows))
	for i := range rows {
		samples = append(samples, twap.Sample{
			Price:       rows[i].Price,
			CollectedAt: rows[i].CollectedAt,
		})
	}
	return samples, nil
}

func (m *Manager) logResolveRetry(id string, err error) {
	if m.Logger != nil {
		m.Logger.Warn("resolution failed, will retry",
			zap.String("competition_id", id),
			zap.Error(err))
	}
}

// scheduleLocked arms the competition's single timer, replacing any pending
// one.
func (m *Manager) scheduleLocked(id string, fireAt time.Time) {
	m.stopTimerLocked(id)
	base := m.ctx
	if base == nil {
		base = context.Background()
	}
	m.timers[id] = m.Sched.At(fireAt, func() {
		m.AdvancePhase(base, id)
	})
}

func (m *Manager) stopTimerLocked(id string) {
	if h, ok := m.timers[id]; ok {
		h.Stop()
		delete(m.timers, id)
	}
}

// stopTrackingLocked stops sampling comp's tokens unless another competition
// still under the scheduler shares the address.
func (m *Manager) stopTrackingLocked(comp *models.Competition) {
	if m.Tracker == nil || comp == nil {
		return
	}
	for _, addr := range comp.TokenAddresses() {
		shared := false
		for _, other := range m.comps {
			if other.ID == comp.ID {
				continue
			}
			if other.TokenAAddress == addr || other.TokenBAddress == addr {
				shared = true
				break
			}
		}
		if !shared {
			m.Tracker.StopTracking(addr)
		}
	}
}

func (m *Manager) retryInterval() time.Duration {
	if m.Config.RetryInterval > 0 {
		return m.Config.RetryInterval
	}
	return 30 * time.Second
}

func (m *Manager) publish(ev notify.Event) {
	if m.Hub != nil {
		m.Hub.Publish(ev)
	}
}

func validate(comp *models.Competition) error {
	if strings.TrimSpace(comp.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if strings.TrimSpace(comp.TokenAAddress) == "" || strings.TrimSpace(comp.TokenBAddress) == "" {
		return fmt.Errorf("missing token address")
	}
	if comp.StartTime.IsZero() || comp.VotingEndTime.IsZero() || comp.EndTime.IsZero() {
		return fmt.Errorf("missing phase timestamps")
	}
	if !comp.StartTime.Before(comp.VotingEndTime) || !comp.VotingEndTime.Before(comp.EndTime) {
		return fmt.Errorf("phase timestamps out of order")
	}
	return nil
}

func validateToken(t TokenInfo) error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("missing address")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("missing symbol")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("missing name")
	}
	return nil
}
