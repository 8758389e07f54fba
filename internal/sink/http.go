package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

// HTTP posts a flat score record to a downstream service
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates a sink posting to url
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

// Name returns "http"
func (h *HTTP) Name() string {
	return "http"
}

// Payload builds the posted record: location, road/weather/total scores, one
// <class>_cnt field per canonical class and the raw weather values
func Payload(r *pipeline.Report) map[string]any {
	p := map[string]any{
		"analysis_id":   r.AnalysisID,
		"cctv_idx":      r.SourceIndex,
		"road_score":    r.Risk.TotalRiskScore,
		"weather_score": r.WeatherSeverity,
		"total_score":   r.CompoundScore,
		"level":         r.Level,
		"degraded":      r.Degraded,
	}
	if r.Location != nil {
		p["lat"] = r.Location.Lat
		p["lon"] = r.Location.Lon
	}
	for class, n := range r.Risk.ClassCounts {
		p[string(class)+"_cnt"] = n
	}
	if r.Weather != nil {
		p["precipitation"] = r.Weather.RainMM
		p["temp"] = r.Weather.TemperatureC
		p["wh_type"] = r.Weather.Condition
		p["snowfall"] = r.Weather.SnowMM
	}
	return p
}

// Save posts the report payload as JSON
func (h *HTTP) Save(ctx context.Context, r *pipeline.Report) error {
	body, err := json.Marshal(Payload(r))
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post score")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errors.Errorf("score endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
