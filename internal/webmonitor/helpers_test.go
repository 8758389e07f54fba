package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/scheduler"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

const requestTimeout = 2 * time.Second

type namedSource string

func (s namedSource) ID() string { return string(s) }

func (s namedSource) Capture(context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

// fakeScheduler records control calls and answers Force from forceFn.
type fakeScheduler struct {
	mu       sync.Mutex
	targets  []pipeline.Target
	running  bool
	interval time.Duration
	inFlight map[string]bool
	forceFn  func(id string) (*pipeline.Report, error)
}

func newFakeScheduler(ids ...string) *fakeScheduler {
	f := &fakeScheduler{interval: time.Minute, inFlight: map[string]bool{}}
	for i, id := range ids {
		f.targets = append(f.targets, pipeline.Target{Source: namedSource(id), Index: i + 1, Name: "camera " + id})
	}
	return f
}

func (f *fakeScheduler) Targets() []pipeline.Target { return f.targets }

func (f *fakeScheduler) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return scheduler.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeScheduler) SetInterval(d time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d < scheduler.MinInterval {
		d = scheduler.MinInterval
	}
	f.interval = d
	return d, nil
}

func (f *fakeScheduler) Force(_ context.Context, id string) (*pipeline.Report, error) {
	return f.forceFn(id)
}

func (f *fakeScheduler) InFlight(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[id]
}

func (f *fakeScheduler) Stats() scheduler.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.Stats{Running: f.running, Interval: f.interval, IntervalSeconds: int(f.interval.Seconds())}
}

func sampleReport(source string, total float64, level string) *pipeline.Report {
	now := time.Now()
	return &pipeline.Report{
		AnalysisID: "id-" + source + "-" + level,
		SourceID:   source,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
		Detections: []types.FusedDetection{
			{BBox: types.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Class: types.ClassCrack, Confidence: 0.9, SourceID: "A"},
		},
		Risk: types.RiskAssessment{
			TotalRiskScore: total,
			ClassCounts:    map[types.CanonicalClass]int{types.ClassCrack: 1},
			DetectionCount: 1,
		},
		CompoundScore: total,
		Level:         level,
	}
}

type testClient struct {
	baseURL string
	client  *http.Client
}

func newTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testClient{baseURL: ts.URL, client: &http.Client{Timeout: requestTimeout}}
}

func (c *testClient) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *testClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path)
}

func (c *testClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path)
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireList(t *testing.T, value any, field string) []any {
	t.Helper()
	list, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return list
}
