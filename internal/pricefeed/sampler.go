package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

// Track modes. Active tokens belong to a live competition and are polled on
// the fast cadence; background tokens are candidates kept warm on the slow one.
const (
	ModeActive     = "active"
	ModeBackground = "background"
)

type trackedToken struct {
	Mode         string
	Since        time.Time
	LastSampleAt *time.Time
	LastError    *string
	FailStreak   int
}

// TokenStatus is a read-only snapshot of one tracked token.
type TokenStatus struct {
	Address      string
	Mode         string
	Since        time.Time
	LastSampleAt *time.Time
	LastError    *string
	FailStreak   int
}

// Sampler polls the price source for every tracked token and persists the
// readings. One failing token never blocks sampling of the others.
type Sampler struct {
	Source PriceSource
	Stream *Stream
	Repo   repository.Repository
	Logger *zap.Logger

	ActiveInterval     time.Duration
	BackgroundInterval time.Duration
	Retention          time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedToken
}

// StartTracking begins sampling addr in the given mode. Calling it again for
// an already tracked token only adjusts the mode (re-starting never resets
// health state). Returns true when the token was newly added.
func (s *Sampler) StartTracking(addr, mode string) bool {
	if s == nil {
		return false
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	if mode != ModeActive && mode != ModeBackground {
		mode = ModeBackground
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracked == nil {
		s.tracked = map[string]*trackedToken{}
	}
	if existing, ok := s.tracked[addr]; ok {
		existing.Mode = mode
		return false
	}
	s.tracked[addr] = &trackedToken{Mode: mode, Since: time.Now().UTC()}
	return true
}

// StopTracking removes addr from the tracked set. Unknown addresses are a
// no-op. Returns true when a token was actually removed.
func (s *Sampler) StopTracking(addr string) bool {
	if s == nil {
		return false
	}
	addr = strings.TrimSpace(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[addr]; !ok {
		return false
	}
	delete(s.tracked, addr)
	return true
}

// IsTracking reports whether addr is currently sampled.
func (s *Sampler) IsTracking(addr string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[strings.TrimSpace(addr)]
	return ok
}

// Tracked returns a snapshot of every tracked token, for the status endpoint.
func (s *Sampler) Tracked() []TokenStatus {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TokenStatus, 0, len(s.tracked))
	for addr, t := range s.tracked {
		out = append(out, TokenStatus{
			Address:      addr,
			Mode:         t.Mode,
			Since:        t.Since,
			LastSampleAt: t.LastSampleAt,
			LastError:    t.LastError,
			FailStreak:   t.FailStreak,
		})
	}
	return out
}

// Run polls until ctx is cancelled. Active tokens are sampled on the fast
// ticker, background tokens on the slow one.
func (s *Sampler) Run(ctx context.Context) error {
	if s == nil || s.Source == nil || s.Repo == nil {
		return nil
	}
	activeInterval := s.ActiveInterval
	if activeInterval <= 0 {
		activeInterval = 5 * time.Second
	}
	backgroundInterval := s.BackgroundInterval
	if backgroundInterval <= 0 {
		backgroundInterval = 60 * time.Second
	}

	s.pollOnce(ctx, ModeBackground)

	fast := time.NewTicker(activeInterval)
	defer fast.Stop()
	slow := time.NewTicker(backgroundInterval)
	defer slow.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fast.C:
			s.pollOnce(ctx, ModeActive)
		case <-slow.C:
			s.pollOnce(ctx, ModeBackground)
		}
	}
}

func (s *Sampler) pollOnce(ctx context.Context, mode string) {
	mints := s.addressesInMode(mode)
	if len(mints) == 0 {
		return
	}
	now := time.Now().UTC()

	quotes := map[string]Quote{}
	if s.Stream != nil {
		// Prefer fresh streamed quotes over a REST round trip.
		maxAge := s.ActiveInterval
		if maxAge <= 0 {
			maxAge = 5 * time.Second
		}
		rest := make([]string, 0, len(mints))
		for _, mint := range mints {
			if q, ok := s.Stream.Latest(mint); ok && now.Sub(q.At) <= maxAge {
				quotes[mint] = q
			} else {
				rest = append(rest, mint)
			}
		}
		mints = rest
	}

	if len(mints) > 0 {
		fetched, err := s.Source.Fetch(ctx, mints)
		if err != nil {
			s.recordFailure(mints, err.Error())
			if s.Logger != nil {
				s.Logger.Warn("price fetch failed",
					zap.String("source", s.Source.Name()),
					zap.Int("tokens", len(mints)),
					zap.Error(err))
			}
			mints = nil
		}
		for mint, q := range fetched {
			quotes[mint] = q
		}
		for _, mint := range mints {
			if _, ok := quotes[mint]; !ok {
				s.recordFailure([]string{mint}, "no price in response")
			}
		}
	}

	if len(quotes) == 0 {
		return
	}

	samples := make([]models.PriceSample, 0, len(quotes))
	for _, q := range quotes {
		samples = append(samples, models.PriceSample{
			TokenAddress: q.Address,
			Price:        q.Price,
			CollectedAt:  q.At,
			Source:       s.Source.Name(),
			Confidence:   q.Confidence,
		})
	}
	if err := s.Repo.InsertPriceSamples(ctx, samples); err != nil {
		addrs := make([]string, 0, len(quotes))
		for mint := range quotes {
			addrs = append(addrs, mint)
		}
		s.recordFailure(addrs, err.Error())
		if s.Logger != nil {
			s.Logger.Warn("price sample persist failed", zap.Error(err))
		}
		return
	}
	s.recordSuccess(quotes, now)
}

func (s *Sampler) addressesInMode(mode string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tracked))
	for addr, t := range s.tracked {
		if t.Mode == mode {
			out = append(out, addr)
		}
	}
	return out
}

func (s *Sampler) recordSuccess(quotes map[string]Quote, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mint := range quotes {
		if t, ok := s.tracked[mint]; ok {
			at := now
			t.LastSampleAt = &at
			t.LastError = nil
			t.FailStreak = 0
		}
	}
}

func (s *Sampler) recordFailure(mints []string, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mint := range mints {
		if t, ok := s.tracked[mint]; ok {
			t.LastError = &msg
			t.FailStreak++
		}
	}
}

// Prune deletes samples older than the retention window, keeping every token
// still referenced by an unresolved competition regardless of age.
func (s *Sampler) Prune(ctx context.Context) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	retention := s.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	statuses := append(models.SchedulerStatuses(), models.StatusPaused)
	open, err := s.Repo.ListCompetitionsByStatuses(ctx, statuses)
	if err != nil {
		return 0, err
	}
	keep := make([]string, 0, len(open)*2)
	for i := range open {
		keep = append(keep, open[i].TokenAddresses()...)
	}
	deleted, err := s.Repo.DeletePriceSamplesBefore(ctx, time.Now().UTC().Add(-retention), keep)
	if err != nil {
		return 0, err
	}
	if deleted > 0 && s.Logger != nil {
		s.Logger.Info("pruned price samples",
			zap.Int64("deleted", deleted),
			zap.Int("kept_tokens", len(keep)))
	}
	return deleted, nil
}
