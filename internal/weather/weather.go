// Package weather fetches current conditions for a camera location.
package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Provider returns the current weather at a coordinate
type Provider interface {
	Current(ctx context.Context, lat, lon float64) (types.WeatherReading, error)
}

// DefaultBaseURL is the OpenWeatherMap API root
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherMap queries the OpenWeatherMap current-weather endpoint in metric units
type OpenWeatherMap struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// owmResponse is the subset of the current-weather payload that is read
type owmResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Rain *struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Snow *struct {
		OneHour float64 `json:"1h"`
	} `json:"snow"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

// NewOpenWeatherMap creates a client. An empty baseURL selects DefaultBaseURL.
func NewOpenWeatherMap(baseURL, apiKey string, timeout time.Duration) *OpenWeatherMap {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenWeatherMap{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Current fetches conditions at lat/lon. Missing rain or snow blocks read as 0.
func (o *OpenWeatherMap) Current(ctx context.Context, lat, lon float64) (types.WeatherReading, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("appid", o.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return types.WeatherReading{}, errors.Wrap(err, "create weather request")
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return types.WeatherReading{}, errors.Wrap(err, "weather request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return types.WeatherReading{}, errors.Errorf("weather api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.WeatherReading{}, errors.Wrap(err, "decode weather response")
	}

	reading := types.WeatherReading{TemperatureC: body.Main.Temp}
	if body.Rain != nil {
		reading.RainMM = body.Rain.OneHour
	}
	if body.Snow != nil {
		reading.SnowMM = body.Snow.OneHour
	}
	if len(body.Weather) > 0 {
		reading.Condition = body.Weather[0].Main
	}
	logger.Debug("Weather", "%.4f,%.4f: %.1fC rain=%.1f snow=%.1f %s",
		lat, lon, reading.TemperatureC, reading.RainMM, reading.SnowMM, reading.Condition)
	return reading, nil
}

// Static always returns the same reading
type Static types.WeatherReading

// Current returns the fixed reading
func (s Static) Current(context.Context, float64, float64) (types.WeatherReading, error) {
	return types.WeatherReading(s), nil
}
