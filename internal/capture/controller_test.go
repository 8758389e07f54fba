package capture

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
)

// scriptedSource replays a fixed sequence of capture outcomes
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	img image.Image
	err error
}

func (s *scriptedSource) ID() string { return "cctv-test" }

func (s *scriptedSource) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		return nil, errors.New("script exhausted")
	}
	return s.steps[i].img, s.steps[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func gray(level uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// recordingClock is a mock clock whose Sleep records the delay and advances time
// without blocking.
type recordingClock struct {
	*clock.Mock
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *recordingClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Mock.Add(d)
}

func (c *recordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newRecordingController(maxRetries int) (*Controller, *recordingClock) {
	clk := &recordingClock{Mock: clock.NewMock()}
	c := NewController(maxRetries, 2*time.Second)
	c.Clock = clk
	return c, clk
}

func TestCaptureReturnsFirstUsableFrame(t *testing.T) {
	valid := gray(80)
	src := &scriptedSource{steps: []step{{img: gray(0)}, {img: gray(3)}, {img: valid}, {img: gray(200)}}}
	c, clk := newRecordingController(3)
	start := clk.Now()

	frame, err := c.Capture(context.Background(), src)
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Same(t, valid, frame.Image)
	assert.Equal(t, 3, frame.Attempt)
	assert.Equal(t, "cctv-test", frame.SourceID)
	assert.False(t, frame.Degraded)
	assert.Equal(t, 3, src.Calls(), "no fourth attempt after success")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
	assert.Equal(t, 4*time.Second, clk.Now().Sub(start))
	assert.Equal(t, clk.Now(), frame.CapturedAt)
}

func TestCaptureFailsAfterMaxRetries(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(1)}, {img: gray(2)}, {img: gray(3)}, {img: gray(90)}}}
	c, clk := newRecordingController(3)

	frame, err := c.Capture(context.Background(), src)
	require.Error(t, err)
	assert.Nil(t, frame, "no placeholder in the default path")

	var failure *AcquisitionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, 3, failure.Blank)
	assert.Equal(t, 0, failure.Empty)
	assert.Equal(t, 3, src.Calls())
	assert.Len(t, clk.Sleeps(), 2, "no sleep after the final attempt")
}

func TestCaptureSleepsOnlyBetweenAttempts(t *testing.T) {
	cases := []struct {
		name       string
		maxRetries int
		steps      []step
		sleeps     int
	}{
		{"success first try", 3, []step{{img: gray(100)}}, 0},
		{"success on last try", 3, []step{{img: gray(0)}, {img: gray(0)}, {img: gray(100)}}, 2},
		{"single attempt fails", 1, []step{{img: gray(0)}}, 0},
		{"all attempts fail", 4, []step{{img: gray(0)}, {err: errors.New("x")}, {img: nil}, {img: gray(0)}}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, clk := newRecordingController(tc.maxRetries)
			_, _ = c.Capture(context.Background(), &scriptedSource{steps: tc.steps})
			sleeps := clk.Sleeps()
			assert.Len(t, sleeps, tc.sleeps)
			for _, d := range sleeps {
				assert.Equal(t, c.RetryDelay, d)
			}
		})
	}
}

func TestCaptureCountsMissingFramesAsFailedAttempts(t *testing.T) {
	boom := errors.New("page load timeout")
	src := &scriptedSource{steps: []step{{err: boom}, {img: nil}, {img: gray(1)}}}
	c, _ := newRecordingController(3)

	_, err := c.Capture(context.Background(), src)
	var failure *AcquisitionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 2, failure.Empty)
	assert.Equal(t, 1, failure.Blank)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "cctv-test")
}

func TestCaptureRecoversAfterSourceError(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: errors.New("reset")}, {img: gray(120)}}}
	c, clk := newRecordingController(3)

	frame, err := c.Capture(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Attempt)
	assert.Equal(t, 2, src.Calls())
	assert.Len(t, clk.Sleeps(), 1)
}

func TestCaptureZeroRetriesStillTriesOnce(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(0)}}}
	c, clk := newRecordingController(0)

	_, err := c.Capture(context.Background(), src)
	var failure *AcquisitionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, 1, src.Calls())
	assert.Empty(t, clk.Sleeps())
}

func TestCaptureIgnoresCancellationBetweenAttempts(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(0)}, {img: gray(0)}, {img: gray(99)}}}
	c := NewController(3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frame, err := c.Capture(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Attempt)
}

type recordingObserver struct {
	attempts []int
	blanks   int
	empties  int
}

func (o *recordingObserver) ObserveAttempt(_ string, attempt int, blank, empty bool) {
	o.attempts = append(o.attempts, attempt)
	if blank {
		o.blanks++
	}
	if empty {
		o.empties++
	}
}

func TestCaptureNotifiesObserver(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(0)}, {err: errors.New("x")}, {img: gray(50)}}}
	obs := &recordingObserver{}
	c := NewController(3, time.Millisecond)
	c.Observer = obs

	_, err := c.Capture(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, obs.attempts)
	assert.Equal(t, 1, obs.blanks)
	assert.Equal(t, 1, obs.empties)
}

func TestCaptureOrPlaceholder(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(0)}, {img: gray(0)}}}
	c, clk := newRecordingController(2)

	frame, err := c.CaptureOrPlaceholder(context.Background(), src)
	var failure *AcquisitionFailure
	require.True(t, errors.As(err, &failure), "failure is still reported")
	require.NotNil(t, frame)
	assert.True(t, frame.Degraded)
	assert.Equal(t, 640, frame.Width())
	assert.Equal(t, 480, frame.Height())
	assert.Equal(t, 2, frame.Attempt)
	assert.Len(t, clk.Sleeps(), 1)
}

func TestCaptureOrPlaceholderPassesThroughSuccess(t *testing.T) {
	src := &scriptedSource{steps: []step{{img: gray(77)}}}
	c := NewController(3, time.Millisecond)

	frame, err := c.CaptureOrPlaceholder(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, frame.Degraded)
}

func TestPlaceholderImageIsNotBlank(t *testing.T) {
	c := NewController(1, 0)
	assert.False(t, c.Validator.IsBlank(PlaceholderImage()))
}
