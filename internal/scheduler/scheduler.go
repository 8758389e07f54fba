// Package scheduler runs periodic analyses over a fixed set of camera targets.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/sink"
)

// MinInterval is the shortest allowed period between cycles
const MinInterval = 10 * time.Second

var (
	// ErrCycleInProgress is returned when a source is already being analysed
	ErrCycleInProgress = errors.New("analysis already in progress for source")
	// ErrUnknownSource is returned for a source id that is not scheduled
	ErrUnknownSource = errors.New("unknown source")
	// ErrAlreadyRunning is returned by Start on a running service
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Analyzer runs one analysis cycle for a target
type Analyzer interface {
	Analyze(ctx context.Context, target pipeline.Target) (*pipeline.Report, error)
}

// Service periodically analyses every target. At most one cycle per source runs at a time.
type Service struct {
	analyzer Analyzer
	targets  []pipeline.Target
	sink     sink.Sink
	onReport func(*pipeline.Report)
	clock    clock.Clock

	mu        sync.Mutex
	interval  time.Duration
	scheduler gocron.Scheduler
	job       gocron.Job
	ctx       context.Context
	cancel    context.CancelFunc
	inFlight  map[string]bool
	latest    map[string]*pipeline.Report
	stats     Stats
}

// Option configures a Service
type Option func(*Service)

// WithSink saves every report to s
func WithSink(s sink.Sink) Option {
	return func(svc *Service) { svc.sink = s }
}

// WithReportHook calls fn after every completed analysis
func WithReportHook(fn func(*pipeline.Report)) Option {
	return func(svc *Service) { svc.onReport = fn }
}

// WithClock sets the clock used for statistics
func WithClock(c clock.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

// New creates a stopped service
func New(analyzer Analyzer, targets []pipeline.Target, interval time.Duration, opts ...Option) *Service {
	s := &Service{
		analyzer: analyzer,
		targets:  append([]pipeline.Target(nil), targets...),
		interval: clampInterval(interval),
		clock:    clock.New(),
		inFlight: make(map[string]bool),
		latest:   make(map[string]*pipeline.Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Targets returns the scheduled targets
func (s *Service) Targets() []pipeline.Target {
	return append([]pipeline.Target(nil), s.targets...)
}

// Start schedules cycles every interval, the first one immediately
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return ErrAlreadyRunning
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())

	job, err := sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.runCycle(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("analysis-cycle"),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return errors.Wrap(err, "schedule analysis job")
	}

	s.scheduler = sched
	s.job = job
	s.ctx = ctx
	s.cancel = cancel
	s.stats.Running = true
	s.stats.StartTime = s.clock.Now()
	sched.Start()

	logger.Info("Scheduler", "started: %d sources every %v", len(s.targets), s.interval)
	return nil
}

// Stop cancels pending cycles and waits for a running one to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	sched, cancel := s.scheduler, s.cancel
	s.scheduler, s.job, s.ctx, s.cancel = nil, nil, nil, nil
	s.stats.Running = false
	s.mu.Unlock()

	if sched == nil {
		return nil
	}
	cancel()
	if err := sched.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown scheduler")
	}
	logger.Info("Scheduler", "stopped")
	return nil
}

// IsRunning reports whether cycles are scheduled
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

// Interval returns the current period
func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the period, clamped to MinInterval. A running schedule is updated in place.
func (s *Service) SetInterval(d time.Duration) (time.Duration, error) {
	d = clampInterval(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = d
	if s.scheduler == nil {
		return d, nil
	}
	ctx := s.ctx
	job, err := s.scheduler.Update(
		s.job.ID(),
		gocron.DurationJob(d),
		gocron.NewTask(func() { s.runCycle(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("analysis-cycle"),
	)
	if err != nil {
		return d, errors.Wrap(err, "update analysis job")
	}
	s.job = job
	logger.Info("Scheduler", "interval set to %v", d)
	return d, nil
}

// runCycle analyses every target once. Cancellation is checked between targets only.
func (s *Service) runCycle(ctx context.Context) {
	logger.Debug("Scheduler", "cycle start")
	for _, t := range s.targets {
		if ctx.Err() != nil {
			logger.Info("Scheduler", "cycle cancelled")
			return
		}
		if _, err := s.analyze(context.WithoutCancel(ctx), t); errors.Is(err, ErrCycleInProgress) {
			logger.Info("Scheduler", "[%s] skipped, previous analysis still running", t.ID())
		}
	}
}

// Force analyses one source now, outside the schedule
func (s *Service) Force(ctx context.Context, sourceID string) (*pipeline.Report, error) {
	for _, t := range s.targets {
		if t.ID() == sourceID {
			return s.analyze(ctx, t)
		}
	}
	return nil, errors.Wrap(ErrUnknownSource, sourceID)
}

// ForceAll analyses every source now and returns the reports that succeeded
func (s *Service) ForceAll(ctx context.Context) []*pipeline.Report {
	var reports []*pipeline.Report
	for _, t := range s.targets {
		if r, err := s.analyze(ctx, t); err == nil {
			reports = append(reports, r)
		}
	}
	return reports
}

func (s *Service) analyze(ctx context.Context, t pipeline.Target) (*pipeline.Report, error) {
	id := t.ID()
	if !s.acquire(id) {
		return nil, ErrCycleInProgress
	}
	defer s.release(id)

	report, err := s.analyzer.Analyze(ctx, t)
	s.record(id, report, err)
	if err != nil {
		logger.Error("Scheduler", "[%s] analysis failed: %v", id, err)
		return nil, err
	}

	if s.sink != nil {
		if serr := s.sink.Save(ctx, report); serr != nil {
			logger.Warn("Scheduler", "[%s] report %s not fully saved: %v", id, report.AnalysisID, serr)
		}
	}
	if s.onReport != nil {
		s.onReport(report)
	}
	return report, nil
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// InFlight reports whether a source is being analysed
func (s *Service) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[id]
}

func (s *Service) record(id string, report *pipeline.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.stats.TotalAnalyses++
	s.stats.LastAnalysisTime = now
	if err != nil {
		s.stats.FailedAnalyses++
		s.stats.LastError = err.Error()
		return
	}
	if report != nil && report.Degraded {
		s.stats.DegradedAnalyses++
	} else {
		s.stats.SuccessfulAnalyses++
	}
	s.stats.LastError = ""
	s.stats.LastReport = report
	s.latest[id] = report
}

// Latest returns the most recent report for a source
func (s *Service) Latest(id string) (*pipeline.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latest[id]
	return r, ok
}

// LatestAll returns the most recent report of every source that has one
func (s *Service) LatestAll() map[string]*pipeline.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*pipeline.Report, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// Stats returns a snapshot of the service counters
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Interval = s.interval
	st.IntervalSeconds = int(s.interval / time.Second)
	if st.TotalAnalyses > 0 {
		st.SuccessRate = float64(st.SuccessfulAnalyses) / float64(st.TotalAnalyses) * 100
	}
	if st.Running && !st.StartTime.IsZero() {
		st.Uptime = s.clock.Since(st.StartTime).Truncate(time.Second)
		st.UptimeSeconds = int(st.Uptime / time.Second)
	}
	return st
}

// Stats are the service counters. Reports built from a placeholder frame count as
// degraded, not successful.
type Stats struct {
	Running            bool             `json:"is_running"`
	Interval           time.Duration    `json:"-"`
	IntervalSeconds    int              `json:"interval_seconds"`
	TotalAnalyses      int              `json:"total_analyses"`
	SuccessfulAnalyses int              `json:"successful_analyses"`
	FailedAnalyses     int              `json:"failed_analyses"`
	DegradedAnalyses   int              `json:"degraded_analyses"`
	SuccessRate        float64          `json:"success_rate"`
	LastAnalysisTime   time.Time        `json:"last_analysis_time"`
	LastError          string           `json:"last_error,omitempty"`
	LastReport         *pipeline.Report `json:"last_analysis_result,omitempty"`
	StartTime          time.Time        `json:"start_time"`
	Uptime             time.Duration    `json:"-"`
	UptimeSeconds      int              `json:"uptime_seconds"`
}
