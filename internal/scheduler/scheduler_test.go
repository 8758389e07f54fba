package scheduler

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

type namedSource string

func (s namedSource) ID() string { return string(s) }

func (s namedSource) Capture(context.Context) (image.Image, error) { return nil, nil }

func targets(ids ...string) []pipeline.Target {
	out := make([]pipeline.Target, len(ids))
	for i, id := range ids {
		out[i] = pipeline.Target{Source: namedSource(id), Index: i + 1}
	}
	return out
}

// fakeAnalyzer counts calls per source and can block or fail them
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	degrade map[string]bool
	block   chan struct{}
	started chan string
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{calls: map[string]int{}, fail: map[string]error{}, degrade: map[string]bool{}}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, t pipeline.Target) (*pipeline.Report, error) {
	f.mu.Lock()
	f.calls[t.ID()]++
	err := f.fail[t.ID()]
	degraded := f.degrade[t.ID()]
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- t.ID()
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.Report{AnalysisID: "r-" + t.ID(), SourceID: t.ID(), SourceIndex: t.Index, Degraded: degraded}, nil
}

func (f *fakeAnalyzer) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type memorySink struct {
	mu    sync.Mutex
	saved []*pipeline.Report
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Save(_ context.Context, r *pipeline.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

func TestForceSavesAndRecords(t *testing.T) {
	a := newFakeAnalyzer()
	store := &memorySink{}
	var hooked []*pipeline.Report
	svc := New(a, targets("cam-1", "cam-2"), time.Minute,
		WithSink(store),
		WithReportHook(func(r *pipeline.Report) { hooked = append(hooked, r) }),
	)

	r, err := svc.Force(context.Background(), "cam-2")
	require.NoError(t, err)
	assert.Equal(t, "cam-2", r.SourceID)
	assert.Equal(t, 2, r.SourceIndex)
	assert.Equal(t, 0, a.Calls("cam-1"))

	latest, ok := svc.Latest("cam-2")
	require.True(t, ok)
	assert.Same(t, r, latest)
	assert.Len(t, svc.LatestAll(), 1)
	assert.Len(t, store.saved, 1)
	assert.Len(t, hooked, 1)

	st := svc.Stats()
	assert.Equal(t, 1, st.TotalAnalyses)
	assert.Equal(t, 1, st.SuccessfulAnalyses)
	assert.Equal(t, 100.0, st.SuccessRate)
	assert.Same(t, r, st.LastReport)
	assert.False(t, st.Running)
}

func TestForceUnknownSource(t *testing.T) {
	svc := New(newFakeAnalyzer(), targets("cam-1"), time.Minute)
	_, err := svc.Force(context.Background(), "cam-9")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestForceRejectsSourceInFlight(t *testing.T) {
	a := newFakeAnalyzer()
	a.block = make(chan struct{})
	a.started = make(chan string, 1)
	svc := New(a, targets("cam-1", "cam-2"), time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Force(context.Background(), "cam-1")
		done <- err
	}()
	assert.Equal(t, "cam-1", <-a.started)
	assert.True(t, svc.InFlight("cam-1"))

	_, err := svc.Force(context.Background(), "cam-1")
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, 1, a.Calls("cam-1"), "busy source is not reloaded")

	close(a.block)
	require.NoError(t, <-done)
	assert.False(t, svc.InFlight("cam-1"))

	a.mu.Lock()
	a.block, a.started = nil, nil
	a.mu.Unlock()
	_, err = svc.Force(context.Background(), "cam-1")
	assert.NoError(t, err)
}

func TestFailuresAreCounted(t *testing.T) {
	a := newFakeAnalyzer()
	a.fail["cam-1"] = errors.New("no usable frame")
	store := &memorySink{}
	svc := New(a, targets("cam-1", "cam-2"), time.Minute, WithSink(store))

	reports := svc.ForceAll(context.Background())
	require.Len(t, reports, 1)
	assert.Equal(t, "cam-2", reports[0].SourceID)

	st := svc.Stats()
	assert.Equal(t, 2, st.TotalAnalyses)
	assert.Equal(t, 1, st.FailedAnalyses)
	assert.Equal(t, 50.0, st.SuccessRate)
	assert.Len(t, store.saved, 1, "failed analyses are not saved")
	_, ok := svc.Latest("cam-1")
	assert.False(t, ok)
}

func TestDegradedReportsAreNotSuccesses(t *testing.T) {
	a := newFakeAnalyzer()
	a.degrade["cam-1"] = true
	a.fail["cam-3"] = errors.New("no usable frame")
	store := &memorySink{}
	svc := New(a, targets("cam-1", "cam-2", "cam-3", "cam-4"), time.Minute, WithSink(store))

	reports := svc.ForceAll(context.Background())
	require.Len(t, reports, 3)

	st := svc.Stats()
	assert.Equal(t, 4, st.TotalAnalyses)
	assert.Equal(t, 2, st.SuccessfulAnalyses)
	assert.Equal(t, 1, st.DegradedAnalyses)
	assert.Equal(t, 1, st.FailedAnalyses)
	assert.Equal(t, 50.0, st.SuccessRate)
	assert.Len(t, store.saved, 3, "degraded reports are still saved")

	latest, ok := svc.Latest("cam-1")
	require.True(t, ok)
	assert.True(t, latest.Degraded)
}

func TestIntervalFloor(t *testing.T) {
	svc := New(newFakeAnalyzer(), nil, time.Second)
	assert.Equal(t, MinInterval, svc.Interval())

	d, err := svc.SetInterval(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, MinInterval, d)

	d, err = svc.SetInterval(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
	assert.Equal(t, 30, svc.Stats().IntervalSeconds)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	a := newFakeAnalyzer()
	svc := New(a, targets("cam-1", "cam-2"), time.Hour)

	require.NoError(t, svc.Start())
	assert.ErrorIs(t, svc.Start(), ErrAlreadyRunning)
	assert.True(t, svc.IsRunning())

	assert.Eventually(t, func() bool {
		return a.Calls("cam-1") == 1 && a.Calls("cam-2") == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := svc.SetInterval(2 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.False(t, svc.Stats().Running)
	require.NoError(t, svc.Stop(), "stopping twice is harmless")

	require.NoError(t, svc.Start(), "a stopped service can be restarted")
	require.NoError(t, svc.Stop())
}

func TestStatsUptime(t *testing.T) {
	mock := clock.NewMock()
	svc := New(newFakeAnalyzer(), nil, time.Hour, WithClock(mock))
	require.NoError(t, svc.Start())
	defer svc.Stop() //nolint:errcheck

	mock.Add(90 * time.Second)
	st := svc.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, 90, st.UptimeSeconds)
}
