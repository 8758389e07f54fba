package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/archive"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/capture"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/fusion"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/risk"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/weather"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

type constSource struct {
	level uint8
	calls int
}

func (s *constSource) ID() string { return "cctv-7" }

func (s *constSource) Capture(context.Context) (image.Image, error) {
	s.calls++
	img := image.NewGray(image.Rect(0, 0, 20, 10))
	for i := range img.Pix {
		img.Pix[i] = s.level
	}
	return img, nil
}

type stubDetector struct {
	id   string
	dets []types.RawDetection
	err  error
}

func (d stubDetector) SourceID() string { return d.id }

func (d stubDetector) Detect(context.Context, image.Image) ([]types.RawDetection, error) {
	return append([]types.RawDetection(nil), d.dets...), d.err
}

type failingWeather struct{}

func (failingWeather) Current(context.Context, float64, float64) (types.WeatherReading, error) {
	return types.WeatherReading{}, errors.New("api down")
}

type recordingObserver struct {
	failures []string
	reports  []*Report
}

func (o *recordingObserver) ObserveAcquisitionFailure(id string) { o.failures = append(o.failures, id) }
func (o *recordingObserver) ObserveReport(r *Report)             { o.reports = append(o.reports, r) }

func scenarioProfile(t *testing.T, detectors ...fusion.Detector) Profile {
	t.Helper()
	tax := taxonomy.Default()
	remapper, err := taxonomy.NewRemapper(tax, map[string]taxonomy.Table{
		"A": taxonomy.Identity(),
		"B": taxonomy.Identity(),
		"C": taxonomy.Identity(),
	})
	require.NoError(t, err)
	engine := fusion.NewEngine(remapper, map[string]float64{"A": 0.2, "B": 0.5, "C": 0.3}, 0.5)
	return Profile{
		Name:     "road",
		Ensemble: fusion.NewEnsemble(engine, detectors...),
		Scorer:   risk.NewScorer(tax),
	}
}

func scenarioDetectors() []fusion.Detector {
	return []fusion.Detector{
		stubDetector{id: "A", dets: []types.RawDetection{{BBox: types.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50}, Confidence: 0.90, LocalClassID: 0}}},
		stubDetector{id: "B", dets: []types.RawDetection{{BBox: types.BBox{X1: 12, Y1: 11, X2: 52, Y2: 49}, Confidence: 0.85, LocalClassID: 0}}},
		stubDetector{id: "C", dets: []types.RawDetection{{BBox: types.BBox{X1: 100, Y1: 100, X2: 140, Y2: 140}, Confidence: 0.60, LocalClassID: 1}}},
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	obs := &recordingObserver{}
	p := New(scenarioProfile(t, scenarioDetectors()...), capture.NewController(3, 0),
		WithWeather(weather.Static{TemperatureC: 25, RainMM: 35}),
		WithObserver(obs),
	)

	report, err := p.Analyze(context.Background(), Target{
		Source:   &constSource{level: 120},
		Index:    7,
		Location: &Location{Lat: 35.1, Lon: 126.8},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.AnalysisID)
	assert.Equal(t, "road", report.Profile)
	assert.Equal(t, "cctv-7", report.SourceID)
	assert.Equal(t, 7, report.SourceIndex)
	assert.Equal(t, types.FrameInfo{Width: 20, Height: 10, Attempt: 1}, report.Frame)

	require.Len(t, report.Detections, 2)
	assert.Equal(t, types.ClassCrack, report.Detections[0].Class)
	assert.Equal(t, 0.85, report.Detections[0].Confidence)
	assert.Equal(t, types.ClassBreak, report.Detections[1].Class)

	assert.InDelta(t, 1.45, report.Risk.TotalRiskScore, 1e-9)
	assert.Equal(t, 4, report.WeatherSeverity)
	assert.Equal(t, 2.0, report.CompoundScore) // 1.45 * 1.4 = 2.03
	assert.Equal(t, risk.LevelCaution, report.Level)
	require.NotNil(t, report.Weather)
	assert.False(t, report.Degraded)
	assert.False(t, report.AllDetectorsFailed)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, obs.reports, 1)
	assert.Same(t, report, obs.reports[0])
}

func TestAnalyzeAcquisitionFailure(t *testing.T) {
	obs := &recordingObserver{}
	src := &constSource{level: 0}
	p := New(scenarioProfile(t, scenarioDetectors()...), capture.NewController(3, 0), WithObserver(obs))

	report, err := p.Analyze(context.Background(), Target{Source: src})
	assert.Nil(t, report)
	var failure *capture.AcquisitionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []string{"cctv-7"}, obs.failures)
	assert.Empty(t, obs.reports)
}

func TestAnalyzeAllDetectorsFailedIsSuccess(t *testing.T) {
	p := New(scenarioProfile(t,
		stubDetector{id: "A", err: errors.New("down")},
		stubDetector{id: "B", err: errors.New("down")},
	), capture.NewController(1, 0))

	report, err := p.Analyze(context.Background(), Target{Source: &constSource{level: 90}})
	require.NoError(t, err, "all detectors failing is not an acquisition failure")
	assert.True(t, report.AllDetectorsFailed)
	assert.Len(t, report.DetectorFailures, 2)
	assert.Empty(t, report.Detections)
	assert.Zero(t, report.Risk.TotalRiskScore)
	assert.Equal(t, map[types.CanonicalClass]int{"crack": 0, "break": 0, "ali_crack": 0}, report.Risk.ClassCounts)
	assert.Equal(t, risk.LevelSafe, report.Level)
}

func TestAnalyzeWeatherFailureScoresWithoutWeather(t *testing.T) {
	p := New(scenarioProfile(t, scenarioDetectors()...), capture.NewController(1, 0),
		WithWeather(failingWeather{}))

	report, err := p.Analyze(context.Background(), Target{
		Source:   &constSource{level: 90},
		Location: &Location{Lat: 1, Lon: 2},
	})
	require.NoError(t, err)
	assert.Nil(t, report.Weather)
	assert.Zero(t, report.WeatherSeverity)
	assert.Equal(t, 1.5, report.CompoundScore)
}

func TestAnalyzeSkipsWeatherWithoutLocation(t *testing.T) {
	p := New(scenarioProfile(t), capture.NewController(1, 0),
		WithWeather(weather.Static{TemperatureC: -5, RainMM: 5}))

	report, err := p.Analyze(context.Background(), Target{Source: &constSource{level: 90}})
	require.NoError(t, err)
	assert.Nil(t, report.Weather)
	assert.Zero(t, report.WeatherSeverity)
}

func TestAnalyzeDegradedMode(t *testing.T) {
	obs := &recordingObserver{}
	p := New(scenarioProfile(t), capture.NewController(2, 0), WithDegradedMode(), WithObserver(obs))

	report, err := p.Analyze(context.Background(), Target{Source: &constSource{level: 0}})
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.True(t, report.Frame.Degraded)
	assert.Equal(t, 640, report.Frame.Width)
	assert.Len(t, obs.failures, 1, "the failure is still reported")
	assert.Len(t, obs.reports, 1)
}

func TestAnalyzeArchivesAcceptedFrames(t *testing.T) {
	arc := archive.New(t.TempDir(), 80)
	require.NoError(t, arc.Start())

	p := New(scenarioProfile(t), capture.NewController(1, 0), WithArchive(arc))
	_, err := p.Analyze(context.Background(), Target{Source: &constSource{level: 90}})
	require.NoError(t, err)

	require.NoError(t, arc.Stop())
	st := arc.Status()
	assert.Equal(t, uint64(1), st.FrameCount)
	assert.Equal(t, uint64(1), st.Annotated)
	assert.Contains(t, st.LastFile, "_annotated.jpg")
}

func TestAnalyzeRequiresSource(t *testing.T) {
	_, err := New(scenarioProfile(t), capture.NewController(1, 0)).Analyze(context.Background(), Target{})
	assert.Error(t, err)
}

func TestRouterDispatchesByTarget(t *testing.T) {
	router := NewRouter()
	p := New(scenarioProfile(t, scenarioDetectors()...), capture.NewController(1, 0))
	router.Bind("cctv-7", p)

	report, err := router.Analyze(context.Background(), Target{Source: &constSource{level: 120}})
	require.NoError(t, err)
	assert.Equal(t, "road", report.Profile)

	got, ok := router.Pipeline("cctv-7")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, err = NewRouter().Analyze(context.Background(), Target{Source: &constSource{level: 120}})
	assert.ErrorContains(t, err, "cctv-7")
}
