// Package scheduler drives the timed fetch and sweep loops across every
// configured platform.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/platform"
	"github.com/kalambet/replyd/internal/policy"
	"github.com/kalambet/replyd/internal/storage"
)

// maxDisable caps how long a failing platform is skipped.
const maxDisable = time.Hour

// Config holds the loop tunables. MaxPostAttempts is how many failed posts
// a reply gets before the sweep stops retrying it.
type Config struct {
	FetchInterval   time.Duration
	SweepInterval   time.Duration
	Lookback        time.Duration
	Overlap         time.Duration
	Parallel        bool
	ErrorThreshold  int
	DisableBase     time.Duration
	RestartDelay    time.Duration
	SweepLimit      int
	MaxPostAttempts int
}

// DefaultConfig returns the built-in loop settings.
func DefaultConfig() Config {
	return Config{
		FetchInterval:   5 * time.Minute,
		SweepInterval:   time.Minute,
		Lookback:        2 * time.Hour,
		Parallel:        true,
		ErrorThreshold:  3,
		DisableBase:     5 * time.Minute,
		RestartDelay:    30 * time.Second,
		SweepLimit:      100,
		MaxPostAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FetchInterval <= 0 {
		c.FetchInterval = def.FetchInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = def.ErrorThreshold
	}
	if c.DisableBase <= 0 {
		c.DisableBase = def.DisableBase
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = def.RestartDelay
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = def.SweepLimit
	}
	if c.MaxPostAttempts <= 0 {
		c.MaxPostAttempts = def.MaxPostAttempts
	}
	return c
}

// Store is the persistence surface the scheduler needs. Implemented by
// storage.Store.
type Store interface {
	GetOwnerActivity() (bool, error)
	GetWatermark(p domain.Platform) (time.Time, bool, error)
	SetWatermark(p domain.Platform, t time.Time) error
	HasReply(key domain.CommentKey) (bool, error)
	ListReplies(f storage.ReplyFilter) ([]domain.Reply, error)
	GetPendingReplies(limit int) ([]domain.Reply, error)
	UpdateReplyStatus(id string, to domain.ReplyStatus) error
}

// Processor handles one comment and posts approved replies.
type Processor interface {
	Process(ctx context.Context, c domain.Comment, mode pipeline.Mode) (pipeline.Outcome, error)
	Post(ctx context.Context, r domain.Reply) (domain.Reply, error)
}

// platformState is the per-platform loop state. run serializes cycles for
// the platform; mu guards the counters so Stats never waits on a cycle.
type platformState struct {
	adapter platform.Adapter
	run     sync.Mutex

	mu                sync.Mutex
	consecutiveErrors int
	disabledUntil     time.Time
	lastError         string
	lastRun           time.Time
}

// PlatformState is a snapshot of one platform's loop state.
type PlatformState struct {
	Platform          domain.Platform `json:"platform"`
	Watermark         *time.Time      `json:"watermark,omitempty"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	DisabledUntil     *time.Time      `json:"disabled_until,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	LastRun           *time.Time      `json:"last_run,omitempty"`
}

// Scheduler runs fetch cycles and sweeps.
type Scheduler struct {
	cfg     Config
	store   Store
	proc    Processor
	policy  *policy.Policy
	hub     *events.Hub
	order   []domain.Platform
	states  map[domain.Platform]*platformState
	sweepMu sync.Mutex
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Scheduler for every adapter in the registry. A nil policy
// uses the defaults; hub may be nil.
func New(cfg Config, store Store, proc Processor, registry *platform.Registry, pol *policy.Policy, hub *events.Hub) *Scheduler {
	if pol == nil {
		pol = policy.Default()
	}
	s := &Scheduler{
		cfg:    cfg.withDefaults(),
		store:  store,
		proc:   proc,
		policy: pol,
		hub:    hub,
		states: make(map[domain.Platform]*platformState),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, a := range registry.List() {
		s.order = append(s.order, a.Platform())
		s.states[a.Platform()] = &platformState{adapter: a}
	}
	return s
}

// Run drives the fetch and sweep loops until ctx is cancelled. A panic in
// either loop is logged and the loop restarts after RestartDelay.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"platforms", len(s.order),
		"fetch_interval", s.cfg.FetchInterval,
		"sweep_interval", s.cfg.SweepInterval,
		"parallel", s.cfg.Parallel,
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.supervise(ctx, "fetch", s.cfg.FetchInterval, func(ctx context.Context) {
			if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("fetch cycle failed", "error", err)
			}
		})
	}()
	go func() {
		defer wg.Done()
		s.supervise(ctx, "sweep", s.cfg.SweepInterval, func(ctx context.Context) {
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
			}
		})
	}()
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) supervise(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	for {
		if !s.loop(ctx, name, interval, fn) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
			s.logger.Info("restarting loop", "loop", name)
		}
	}
}

// loop runs fn immediately and then every interval. It reports whether it
// exited because of a panic.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("loop panicked", "loop", name, "panic", r, "stack", string(debug.Stack()))
			crashed = true
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// PlatformReport summarizes one platform's part of a cycle.
type PlatformReport struct {
	Platform  domain.Platform `json:"platform"`
	Skipped   bool            `json:"skipped,omitempty"`
	Fetched   int             `json:"fetched"`
	Processed int             `json:"processed"`
	Posted    int             `json:"posted"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
	Watermark *time.Time      `json:"watermark,omitempty"`
}

// CycleReport summarizes a fetch cycle.
type CycleReport struct {
	StartedAt   time.Time        `json:"started_at"`
	OwnerActive bool             `json:"owner_active"`
	Platforms   []PlatformReport `json:"platforms"`
}

// RunCycle fetches and processes new comments for every enabled platform.
// The owner activity flag is read once and applies to the whole cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: s.now().UTC()}

	ownerActive, err := s.store.GetOwnerActivity()
	if err != nil {
		return report, fmt.Errorf("reading owner activity: %w", err)
	}
	report.OwnerActive = ownerActive
	mode := pipeline.Mode{OwnerActive: ownerActive}
	report.Platforms = make([]PlatformReport, len(s.order))

	if !s.cfg.Parallel {
		for i, p := range s.order {
			report.Platforms[i] = s.runPlatform(ctx, p, mode)
		}
		return report, nil
	}

	var (
		g        errgroup.Group
		panicMu  sync.Mutex
		panicked any
	)
	for i, p := range s.order {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					panicked = fmt.Sprintf("platform %s: %v", p, r)
					panicMu.Unlock()
				}
			}()
			report.Platforms[i] = s.runPlatform(ctx, p, mode)
			return nil
		})
	}
	g.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return report, nil
}

func (s *Scheduler) runPlatform(ctx context.Context, p domain.Platform, mode pipeline.Mode) PlatformReport {
	st := s.states[p]
	st.run.Lock()
	defer st.run.Unlock()

	rep := PlatformReport{Platform: p}
	now := s.now()

	st.mu.Lock()
	disabledUntil := st.disabledUntil
	st.lastRun = now
	st.mu.Unlock()
	if now.Before(disabledUntil) {
		s.logger.Debug("platform disabled, skipping", "platform", p, "until", disabledUntil)
		rep.Skipped = true
		return rep
	}

	watermark, ok, err := s.store.GetWatermark(p)
	if err != nil {
		s.logger.Error("reading watermark failed", "platform", p, "error", err)
		rep.Error = err.Error()
		return rep
	}
	if !ok {
		watermark = now.Add(-s.cfg.Lookback)
	}
	cycleStart := now

	comments, err := st.adapter.FetchSince(ctx, watermark.Add(-s.cfg.Overlap))
	if err != nil {
		rep.Error = err.Error()
		s.recordFetchError(st, p, err)
		return rep
	}
	rep.Fetched = len(comments)

	batch := s.selectNew(p, comments, watermark)
	clean := true
	for _, c := range batch {
		if ctx.Err() != nil {
			clean = false
			break
		}
		out, err := s.proc.Process(ctx, c, mode)
		if err != nil {
			clean = false
			rep.Failed++
			s.logger.Error("processing comment failed", "platform", p, "comment_id", c.ID, "error", err)
			continue
		}
		rep.Processed++
		if out.Posted {
			rep.Posted++
		}
	}

	if !clean {
		s.logger.Warn("batch incomplete, watermark kept", "platform", p, "watermark", watermark, "failed", rep.Failed)
		return rep
	}

	next := cycleStart
	if watermark.After(next) {
		next = watermark
	}
	if err := s.store.SetWatermark(p, next); err != nil {
		s.logger.Error("saving watermark failed", "platform", p, "error", err)
		rep.Error = err.Error()
		return rep
	}
	rep.Watermark = &next

	st.mu.Lock()
	st.consecutiveErrors = 0
	st.disabledUntil = time.Time{}
	st.lastError = ""
	st.mu.Unlock()

	if len(batch) > 0 {
		s.logger.Info("platform cycle complete",
			"platform", p, "fetched", rep.Fetched, "processed", rep.Processed, "posted", rep.Posted)
	}
	return rep
}

// selectNew keeps comments strictly newer than the watermark, plus those
// inside the overlap window that have no reply yet. Comments that already
// have a reply are dropped either way. The result is deduplicated and sorted
// oldest first.
func (s *Scheduler) selectNew(p domain.Platform, comments []domain.Comment, watermark time.Time) []domain.Comment {
	windowStart := watermark.Add(-s.cfg.Overlap)
	seen := make(map[string]struct{}, len(comments))
	out := make([]domain.Comment, 0, len(comments))

	for _, c := range comments {
		if c.Platform == "" {
			c.Platform = p
		}
		if _, dup := seen[c.ID]; dup && c.ID != "" {
			continue
		}
		seen[c.ID] = struct{}{}

		switch {
		case c.PublishedAt.After(watermark):
		case s.cfg.Overlap > 0 && !c.PublishedAt.Before(windowStart):
		default:
			continue
		}

		if c.ID != "" {
			replied, err := s.store.HasReply(c.Key())
			if err != nil {
				s.logger.Warn("reply lookup failed", "platform", p, "comment_id", c.ID, "error", err)
			} else if replied {
				continue
			}
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out
}

func (s *Scheduler) recordFetchError(st *platformState, p domain.Platform, err error) {
	st.mu.Lock()
	st.consecutiveErrors++
	n := st.consecutiveErrors
	st.lastError = err.Error()
	var until time.Time
	if n >= s.cfg.ErrorThreshold {
		until = s.now().Add(disableFor(s.cfg.DisableBase, n-s.cfg.ErrorThreshold))
		st.disabledUntil = until
	}
	st.mu.Unlock()

	if n < s.cfg.ErrorThreshold {
		s.logger.Warn("fetch failed", "platform", p, "consecutive_errors", n, "error", err)
	} else {
		s.logger.Error("fetch failing repeatedly, platform disabled",
			"platform", p, "consecutive_errors", n, "disabled_until", until, "error", err)
	}
	s.hub.Publish(events.PlatformError, events.PlatformFailure{
		Platform:          p,
		Op:                "fetch",
		Error:             err.Error(),
		ConsecutiveErrors: n,
	})
}

// disableFor returns base * 2^steps, capped at maxDisable.
func disableFor(base time.Duration, steps int) time.Duration {
	d := base
	for i := 0; i < steps && d < maxDisable; i++ {
		d *= 2
	}
	return min(d, maxDisable)
}

// States returns a snapshot of every platform's loop state.
func (s *Scheduler) States() []PlatformState {
	out := make([]PlatformState, 0, len(s.order))
	for _, p := range s.order {
		st := s.states[p]
		ps := PlatformState{Platform: p}

		if wm, ok, err := s.store.GetWatermark(p); err == nil && ok {
			ps.Watermark = &wm
		}

		st.mu.Lock()
		ps.ConsecutiveErrors = st.consecutiveErrors
		ps.LastError = st.lastError
		if !st.disabledUntil.IsZero() {
			until := st.disabledUntil
			ps.DisabledUntil = &until
		}
		if !st.lastRun.IsZero() {
			last := st.lastRun
			ps.LastRun = &last
		}
		st.mu.Unlock()

		out = append(out, ps)
	}
	return out
}
