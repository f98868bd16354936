package competition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokenwars/internal/models"
	"tokenwars/internal/notify"
	"tokenwars/internal/pricefeed"
	"tokenwars/internal/scheduler"
)

type fakeTracker struct {
	mu    sync.Mutex
	modes map[string]string
}

func (f *fakeTracker) StartTracking(addr, mode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes == nil {
		f.modes = map[string]string{}
	}
	_, existed := f.modes[addr]
	f.modes[addr] = mode
	return !existed
}

func (f *fakeTracker) StopTracking(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.modes[addr]
	delete(f.modes, addr)
	return existed
}

func (f *fakeTracker) mode(addr string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[addr]
}

type fakeSettler struct {
	settled  []*models.Competition
	refunded []*models.Competition
}

func (f *fakeSettler) Settle(_ context.Context, comp *models.Competition) error {
	f.settled = append(f.settled, comp)
	return nil
}

func (f *fakeSettler) RefundAll(_ context.Context, comp *models.Competition) error {
	f.refunded = append(f.refunded, comp)
	return nil
}

func testConfig() Config {
	return Config{
		StartDelay:       5 * time.Minute,
		VotingDuration:   15 * time.Minute,
		ActiveDuration:   60 * time.Minute,
		ResolutionWindow: 5 * time.Minute,
		RetryInterval:    30 * time.Second,
		BetAmount:        decimal.NewFromFloat(0.1),
		PlatformFeeBps:   1500,
	}
}

func newTestManager(repo *stubRepo, sim *scheduler.Simulated) (*Manager, *fakeTracker, *fakeSettler) {
	tracker := &fakeTracker{}
	settler := &fakeSettler{}
	m := &Manager{
		Repo:    repo,
		Sched:   sim,
		Tracker: tracker,
		Settler: settler,
		Hub:     notify.NewHub(),
		Config:  testConfig(),
	}
	return m, tracker, settler
}

func pair() CreateParams {
	return CreateParams{
		TokenA: TokenInfo{Address: "mintA", Symbol: "AAA", Name: "Token A"},
		TokenB: TokenInfo{Address: "mintB", Symbol: "BBB", Name: "Token B"},
	}
}

func TestFullLifecycle(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, tracker, settler := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}
	if comp.Status != models.StatusSetup {
		t.Fatalf("status=%s want=%s", comp.Status, models.StatusSetup)
	}
	if got := m.PendingTimers(); got != 1 {
		t.Fatalf("timers=%d want=1", got)
	}
	if tracker.mode("mintA") != pricefeed.ModeBackground {
		t.Fatalf("mintA mode=%q want background", tracker.mode("mintA"))
	}

	// mintA gains 10%, mintB loses 10% between the two TWAP windows
	votingEnd := t0.Add(20 * time.Minute)
	end := t0.Add(80 * time.Minute)
	repo.seedSamples("mintA", votingEnd, []float64{100, 100, 100}, time.Minute)
	repo.seedSamples("mintB", votingEnd, []float64{200, 200, 200}, time.Minute)
	repo.seedSamples("mintA", end.Add(-4*time.Minute), []float64{110, 110, 110}, time.Minute)
	repo.seedSamples("mintB", end.Add(-4*time.Minute), []float64{180, 180, 180}, time.Minute)

	sim.Advance(5 * time.Minute)
	if got, _ := repo.GetCompetitionByID(context.Background(), comp.ID); got.Status != models.StatusVoting {
		t.Fatalf("status=%s want=%s at t0+5m", got.Status, models.StatusVoting)
	}

	sim.Advance(15 * time.Minute)
	if got, _ := repo.GetCompetitionByID(context.Background(), comp.ID); got.Status != models.StatusActive {
		t.Fatalf("status=%s want=%s at t0+20m", got.Status, models.StatusActive)
	}
	if tracker.mode("mintA") != pricefeed.ModeActive || tracker.mode("mintB") != pricefeed.ModeActive {
		t.Fatalf("modes=%v want both active", tracker.modes)
	}

	sim.Advance(60 * time.Minute)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.Status != models.StatusResolved {
		t.Fatalf("status=%s want=%s at t0+80m", got.Status, models.StatusResolved)
	}
	if got.WinnerToken == nil || *got.WinnerToken != models.SideTokenA {
		t.Fatalf("winner=%v want=%s", got.WinnerToken, models.SideTokenA)
	}
	if got.TokenAPerformance == nil || !got.TokenAPerformance.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("perfA=%v want=0.1", got.TokenAPerformance)
	}
	if got.TokenBPerformance == nil || !got.TokenBPerformance.Equal(decimal.NewFromFloat(-0.1)) {
		t.Fatalf("perfB=%v want=-0.1", got.TokenBPerformance)
	}

	// the machine released everything
	if m.PendingTimers() != 0 || m.ActiveCount() != 0 {
		t.Fatalf("timers=%d comps=%d want released", m.PendingTimers(), m.ActiveCount())
	}
	if tracker.mode("mintA") != "" || tracker.mode("mintB") != "" {
		t.Fatalf("tracking not stopped: %v", tracker.modes)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("settled=%d want=1", len(settler.settled))
	}

	// persisted statuses only ever move forward
	last := -1
	for _, st := range repo.history(comp.ID) {
		rank := models.StatusRank(st)
		if rank < last {
			t.Fatalf("status regression in %v", repo.history(comp.ID))
		}
		last = rank
	}
}

func TestRecoveryCatchUp(t *testing.T) {
	// persisted in VOTING with votingEndTime already past: recovery must
	// advance straight to ACTIVE without waiting for a timer
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	repo.comps["comp-1"] = &models.Competition{
		ID:            "comp-1",
		TokenAAddress: "mintA",
		TokenBAddress: "mintB",
		Status:        models.StatusVoting,
		StartTime:     t0.Add(-30 * time.Minute),
		VotingEndTime: t0.Add(-10 * time.Minute),
		EndTime:       t0.Add(50 * time.Minute),
	}
	m, tracker, _ := newTestManager(repo, sim)

	if err := m.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("recover: err=%v", err)
	}
	got, _ := repo.GetCompetitionByID(context.Background(), "comp-1")
	if got.Status != models.StatusActive {
		t.Fatalf("status=%s want=%s after catch-up", got.Status, models.StatusActive)
	}
	if m.PendingTimers() != 1 {
		t.Fatalf("timers=%d want=1 (armed for end_time)", m.PendingTimers())
	}
	if tracker.mode("mintA") != pricefeed.ModeActive {
		t.Fatalf("mintA mode=%q want active", tracker.mode("mintA"))
	}
}

func TestRecoveryIdempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	repo.comps["comp-1"] = &models.Competition{
		ID:            "comp-1",
		TokenAAddress: "mintA",
		TokenBAddress: "mintB",
		Status:        models.StatusSetup,
		StartTime:     t0.Add(5 * time.Minute),
		VotingEndTime: t0.Add(20 * time.Minute),
		EndTime:       t0.Add(80 * time.Minute),
	}
	m, _, _ := newTestManager(repo, sim)

	if err := m.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("first recover: err=%v", err)
	}
	if err := m.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("second recover: err=%v", err)
	}
	if got := m.PendingTimers(); got != 1 {
		t.Fatalf("timers=%d want=1 after double recovery", got)
	}
	if got := sim.Pending(); got != 1 {
		t.Fatalf("armed timers=%d want=1", got)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("comps=%d want=1", got)
	}
}

func TestRecoverySkipsCorruptCompetition(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	repo.comps["bad"] = &models.Competition{
		ID:        "bad",
		Status:    models.StatusSetup,
		StartTime: t0.Add(time.Minute),
		// token addresses and remaining timestamps missing
	}
	repo.comps["good"] = &models.Competition{
		ID:            "good",
		TokenAAddress: "mintA",
		TokenBAddress: "mintB",
		Status:        models.StatusSetup,
		StartTime:     t0.Add(5 * time.Minute),
		VotingEndTime: t0.Add(20 * time.Minute),
		EndTime:       t0.Add(80 * time.Minute),
	}
	m, _, _ := newTestManager(repo, sim)

	if err := m.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("recover: err=%v", err)
	}
	if _, ok := m.Snapshot("bad"); ok {
		t.Fatalf("corrupt competition was loaded")
	}
	if _, ok := m.Snapshot("good"); !ok {
		t.Fatalf("valid competition was not loaded")
	}
}

func TestPersistFailureRetriesOnSchedule(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	repo.comps["comp-1"] = &models.Competition{
		ID:            "comp-1",
		TokenAAddress: "mintA",
		TokenBAddress: "mintB",
		Status:        models.StatusSetup,
		StartTime:     t0.Add(-time.Minute),
		VotingEndTime: t0.Add(20 * time.Minute),
		EndTime:       t0.Add(80 * time.Minute),
	}
	repo.failStatusUpdates = 1
	m, _, _ := newTestManager(repo, sim)

	if err := m.LoadAndRecover(context.Background()); err != nil {
		t.Fatalf("recover: err=%v", err)
	}
	got, _ := repo.GetCompetitionByID(context.Background(), "comp-1")
	if got.Status != models.StatusSetup {
		t.Fatalf("status=%s want still %s after refused write", got.Status, models.StatusSetup)
	}
	if m.PendingTimers() != 1 {
		t.Fatalf("timers=%d want=1 retry timer", m.PendingTimers())
	}

	sim.Advance(30 * time.Second)
	got, _ = repo.GetCompetitionByID(context.Background(), "comp-1")
	if got.Status != models.StatusVoting {
		t.Fatalf("status=%s want=%s after retry", got.Status, models.StatusVoting)
	}
}

func TestTieRefundsEveryone(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, _, settler := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}

	// both tokens flat: identical performance
	votingEnd := t0.Add(20 * time.Minute)
	end := t0.Add(80 * time.Minute)
	repo.seedSamples("mintA", votingEnd, []float64{100, 100}, time.Minute)
	repo.seedSamples("mintB", votingEnd, []float64{50, 50}, time.Minute)
	repo.seedSamples("mintA", end.Add(-2*time.Minute), []float64{100, 100}, time.Minute)
	repo.seedSamples("mintB", end.Add(-2*time.Minute), []float64{50, 50}, time.Minute)

	sim.Advance(80 * time.Minute)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.Status != models.StatusResolved {
		t.Fatalf("status=%s want=%s", got.Status, models.StatusResolved)
	}
	if got.WinnerToken != nil {
		t.Fatalf("winner=%v want=nil on tie", *got.WinnerToken)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("settled=%d want=1 (settler refunds on nil winner)", len(settler.settled))
	}
	if settler.settled[0].WinnerToken != nil {
		t.Fatalf("settler saw winner=%v want=nil", *settler.settled[0].WinnerToken)
	}
}

func TestResolveWithoutSamplesStillResolves(t *testing.T) {
	// no price data at all: resolution degrades to no winner instead of
	// wedging the competition in CLOSED forever
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, _, _ := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}
	sim.Advance(80 * time.Minute)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.Status != models.StatusResolved {
		t.Fatalf("status=%s want=%s", got.Status, models.StatusResolved)
	}
	if got.WinnerToken != nil {
		t.Fatalf("winner=%v want=nil without samples", *got.WinnerToken)
	}
}

func TestSingleSampleFallbackDecidesWinner(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, _, _ := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}
	votingEnd := t0.Add(20 * time.Minute)
	end := t0.Add(80 * time.Minute)
	// one sample per window is a degraded but usable baseline
	repo.seedSamples("mintA", votingEnd, []float64{100}, time.Minute)
	repo.seedSamples("mintA", end.Add(-time.Minute), []float64{90}, time.Minute)
	repo.seedSamples("mintB", votingEnd, []float64{100}, time.Minute)
	repo.seedSamples("mintB", end.Add(-time.Minute), []float64{95}, time.Minute)

	sim.Advance(80 * time.Minute)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.WinnerToken == nil || *got.WinnerToken != models.SideTokenB {
		t.Fatalf("winner=%v want=%s (-5%% beats -10%%)", got.WinnerToken, models.SideTokenB)
	}
}

func TestAdvancePhaseUnknownIDIsNoop(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	m, _, _ := newTestManager(newStubRepo(), sim)
	m.AdvancePhase(context.Background(), "ghost")
	if m.PendingTimers() != 0 {
		t.Fatalf("timers=%d want=0", m.PendingTimers())
	}
}

func TestCancelRefundsAndReleases(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, tracker, settler := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}
	sim.Advance(6 * time.Minute) // into VOTING

	updated, err := m.Cancel(context.Background(), comp.ID, "bad pair")
	if err != nil {
		t.Fatalf("cancel: err=%v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Fatalf("status=%s want=%s", updated.Status, models.StatusCancelled)
	}
	if m.PendingTimers() != 0 || m.ActiveCount() != 0 {
		t.Fatalf("timers=%d comps=%d want released", m.PendingTimers(), m.ActiveCount())
	}
	if len(settler.refunded) != 1 {
		t.Fatalf("refunded=%d want=1", len(settler.refunded))
	}
	if tracker.mode("mintA") != "" {
		t.Fatalf("still tracking after cancel")
	}

	// the stale timer problem: nothing fires for the cancelled competition
	sim.Advance(2 * time.Hour)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status=%s want stays %s", got.Status, models.StatusCancelled)
	}
}

func TestPauseAndResumeCatchUp(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, _, _ := newTestManager(repo, sim)

	comp, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create: err=%v", err)
	}
	if _, err := m.Pause(context.Background(), comp.ID); err != nil {
		t.Fatalf("pause: err=%v", err)
	}
	if m.PendingTimers() != 0 {
		t.Fatalf("timers=%d want=0 while paused", m.PendingTimers())
	}

	// deadlines pass while paused; nothing moves
	sim.Advance(25 * time.Minute)
	got, _ := repo.GetCompetitionByID(context.Background(), comp.ID)
	if got.Status != models.StatusPaused {
		t.Fatalf("status=%s want=%s", got.Status, models.StatusPaused)
	}

	// resume recomputes the phase from the stored timestamps
	resumed, err := m.Resume(context.Background(), comp.ID)
	if err != nil {
		t.Fatalf("resume: err=%v", err)
	}
	if resumed.Status != models.StatusActive {
		t.Fatalf("status=%s want=%s after resume at t0+25m", resumed.Status, models.StatusActive)
	}
	if m.PendingTimers() != 1 {
		t.Fatalf("timers=%d want=1 after resume", m.PendingTimers())
	}
}

func TestSharedTokenKeepsTracking(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sim := scheduler.NewSimulated(t0)
	repo := newStubRepo()
	m, tracker, _ := newTestManager(repo, sim)

	first, err := m.CreateManual(context.Background(), pair())
	if err != nil {
		t.Fatalf("create first: err=%v", err)
	}
	second, err := m.CreateManual(context.Background(), CreateParams{
		TokenA: TokenInfo{Address: "mintA", Symbol: "AAA", Name: "Token A"},
		TokenB: TokenInfo{Address: "mintC", Symbol: "CCC", Name: "Token C"},
	})
	if err != nil {
		t.Fatalf("create second: err=%v", err)
	}

	if _, err := m.Cancel(context.Background(), first.ID, "test"); err != nil {
		t.Fatalf("cancel: err=%v", err)
	}
	if tracker.mode("mintA") == "" {
		t.Fatalf("mintA tracking dropped while %s still needs it", second.ID)
	}
	if tracker.mode("mintB") != "" {
		t.Fatalf("mintB tracking kept with no competition using it")
	}
}
