// Package config loads the service configuration from YAML, .env files and the environment.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/brightness"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/fusion"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/scheduler"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/webmonitor"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// DefaultProfile is the name of the built-in road damage profile.
const DefaultProfile = "road_damage"

const maxFileSize = 1 << 20

// Config is the root configuration.
type Config struct {
	Log       LogConfig         `yaml:"log"`
	Capture   CaptureConfig     `yaml:"capture"`
	Profiles  []ProfileConfig   `yaml:"profiles"`
	Cameras   []CameraConfig    `yaml:"cameras"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Weather   WeatherConfig     `yaml:"weather"`
	Storage   StorageConfig     `yaml:"storage"`
	Archive   ArchiveConfig     `yaml:"archive"`
	Monitor   webmonitor.Config `yaml:"monitor"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Color      bool   `yaml:"color"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// CaptureConfig controls frame acquisition.
type CaptureConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	BlankThreshold float64       `yaml:"blank_threshold"`
	Degraded       bool          `yaml:"degraded"`
}

// ProfileConfig declares one detection strategy.
type ProfileConfig struct {
	Name         string               `yaml:"name"`
	IoUThreshold float64              `yaml:"iou_threshold"`
	Classes      []taxonomy.ClassSpec `yaml:"classes"`
	Detectors    []DetectorConfig     `yaml:"detectors"`
}

// DetectorConfig declares one remote detector. An empty LocalNames list means the
// detector already reports canonical class ids.
type DetectorConfig struct {
	ID         string                          `yaml:"id"`
	URL        string                          `yaml:"url"`
	Model      string                          `yaml:"model"`
	Weight     float64                         `yaml:"weight"`
	Timeout    time.Duration                   `yaml:"timeout"`
	LocalNames []string                        `yaml:"local_names"`
	Mapping    map[string]types.CanonicalClass `yaml:"mapping"`
}

// CameraConfig declares one frame source.
type CameraConfig struct {
	ID       string             `yaml:"id"`
	Index    int                `yaml:"index"`
	Name     string             `yaml:"name"`
	URL      string             `yaml:"url"`
	Profile  string             `yaml:"profile"`
	Location *pipeline.Location `yaml:"location"`
}

// SchedulerConfig controls periodic analysis.
type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	AutoStart bool          `yaml:"auto_start"`
}

// WeatherConfig controls the weather lookup. An empty APIKey disables it.
type WeatherConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig lists the report sinks. Empty values disable a sink.
type StorageConfig struct {
	SQLitePath   string        `yaml:"sqlite_path"`
	ReportURL    string        `yaml:"report_url"`
	RoadScoreURL string        `yaml:"road_score_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ArchiveConfig controls frame archiving.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Quality int    `yaml:"quality"`
}

// RoadDamageLocalNames is the label order of the road damage model that needs remapping.
var RoadDamageLocalNames = []string{"D20", "D43", "D50", "D44", "D00", "D10", "D40"}

// RoadDamageMapping maps RoadDamageLocalNames into the default taxonomy.
var RoadDamageMapping = map[string]types.CanonicalClass{
	"D00": types.ClassCrack,
	"D10": types.ClassCrack,
	"D40": types.ClassBreak,
	"D20": types.ClassAliCrack,
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Color:      true,
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Capture: CaptureConfig{
			MaxRetries:     3,
			RetryDelay:     2 * time.Second,
			Timeout:        10 * time.Second,
			BlankThreshold: brightness.DefaultThreshold,
		},
		Profiles: []ProfileConfig{{
			Name:         DefaultProfile,
			IoUThreshold: fusion.DefaultIoUThreshold,
			Classes:      append([]taxonomy.ClassSpec(nil), taxonomy.DefaultClasses...),
			Detectors: []DetectorConfig{
				{ID: "yolov8n", URL: "http://localhost:8000", Weight: 0.2},
				{
					ID:         "yolov8s",
					URL:        "http://localhost:8000",
					Weight:     0.5,
					LocalNames: append([]string(nil), RoadDamageLocalNames...),
					Mapping:    copyMapping(RoadDamageMapping),
				},
				{ID: "yolov8l", URL: "http://localhost:8000", Weight: 0.3},
			},
		}},
		Scheduler: SchedulerConfig{
			Interval: time.Minute,
		},
		Weather: WeatherConfig{
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			SQLitePath: "roadrisk.db",
			Timeout:    10 * time.Second,
		},
		Archive: ArchiveConfig{
			Path:    "./captures",
			Quality: 90,
		},
		Monitor: webmonitor.DefaultConfig(),
	}
}

func copyMapping(m map[string]types.CanonicalClass) map[string]types.CanonicalClass {
	out := make(map[string]types.CanonicalClass, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Load builds a Config from defaults, the YAML file at path (optional) and the
// environment. envFiles are loaded first; missing files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load env file %s", f)
		}
	}
	return nil
}

func (c *Config) readFile(path string) error {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "parse config YAML")
	}
	return nil
}

// ApplyEnv applies the environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CCTV_URL"); ok && v != "" {
		if len(c.Cameras) == 0 {
			c.Cameras = append(c.Cameras, CameraConfig{ID: "cctv-1", Index: 1})
		}
		c.Cameras[0].URL = v
	}
	if v, ok := lookup("CCTV_RETRY_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "CCTV_RETRY_COUNT %q", v)
		}
		c.Capture.MaxRetries = n
	}
	if v, ok := lookup("CCTV_TIMEOUT"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return errors.Wrapf(err, "CCTV_TIMEOUT %q", v)
		}
		c.Capture.Timeout = d
	}
	if v, ok := lookup("DB_URL"); ok {
		c.Storage.ReportURL = v
	}
	if v, ok := lookup("ROAD_SCORE_URL"); ok {
		c.Storage.RoadScoreURL = v
	}
	if v, ok := lookup("WEATHER_API_KEY"); ok {
		c.Weather.APIKey = v
	}
	if v, ok := lookup("DETECTOR_URL"); ok && v != "" {
		for i := range c.Profiles {
			for j := range c.Profiles[i].Detectors {
				c.Profiles[i].Detectors[j].URL = v
			}
		}
	}
	return nil
}

// parseSeconds accepts a plain number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Capture.MaxRetries < 1 {
		return errors.Errorf("capture.max_retries must be at least 1, got %d", c.Capture.MaxRetries)
	}
	if c.Capture.RetryDelay < 0 {
		return errors.Errorf("capture.retry_delay must be non-negative, got %v", c.Capture.RetryDelay)
	}
	if c.Capture.BlankThreshold < 0 || c.Capture.BlankThreshold > 255 {
		return errors.Errorf("capture.blank_threshold must be between 0 and 255, got %v", c.Capture.BlankThreshold)
	}
	if c.Scheduler.Interval < 0 {
		return errors.Errorf("scheduler.interval must be non-negative, got %v", c.Scheduler.Interval)
	}
	if c.Archive.Quality < 0 || c.Archive.Quality > 100 {
		return errors.Errorf("archive.quality must be between 0 and 100, got %d", c.Archive.Quality)
	}
	if len(c.Profiles) == 0 {
		return errors.New("at least one profile is required")
	}

	profiles := make(map[string]bool, len(c.Profiles))
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "profile %q", p.Name)
		}
		if profiles[p.Name] {
			return errors.Errorf("duplicate profile %q", p.Name)
		}
		profiles[p.Name] = true
	}

	cameras := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return errors.New("camera id is required")
		}
		if cam.URL == "" {
			return errors.Errorf("camera %q: url is required", cam.ID)
		}
		if cameras[cam.ID] {
			return errors.Errorf("duplicate camera %q", cam.ID)
		}
		cameras[cam.ID] = true
		if cam.Profile != "" && !profiles[cam.Profile] {
			return errors.Errorf("camera %q: unknown profile %q", cam.ID, cam.Profile)
		}
	}
	return nil
}

// Validate checks one profile.
func (p *ProfileConfig) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.IoUThreshold <= 0 || p.IoUThreshold > 1 {
		return errors.Errorf("iou_threshold must be in (0, 1], got %v", p.IoUThreshold)
	}
	tax, err := taxonomy.New(p.Classes)
	if err != nil {
		return err
	}
	if len(p.Detectors) == 0 {
		return errors.New("at least one detector is required")
	}

	seen := make(map[string]bool, len(p.Detectors))
	for _, d := range p.Detectors {
		if d.ID == "" {
			return errors.New("detector id is required")
		}
		if seen[d.ID] {
			return errors.Errorf("duplicate detector %q", d.ID)
		}
		seen[d.ID] = true
		if d.URL == "" {
			return errors.Errorf("detector %q: url is required", d.ID)
		}
		if d.Weight < 0 {
			return errors.Errorf("detector %q: weight must be non-negative, got %v", d.ID, d.Weight)
		}
		if _, err := d.table(tax); err != nil {
			return errors.Wrapf(err, "detector %q", d.ID)
		}
	}
	return nil
}

// ProfileFor returns the profile name a camera is analysed with.
func (c *Config) ProfileFor(cam CameraConfig) string {
	if cam.Profile != "" {
		return cam.Profile
	}
	return c.Profiles[0].Name
}

// SchedulerInterval returns the configured interval clamped to the scheduler floor.
func (c *Config) SchedulerInterval() time.Duration {
	if c.Scheduler.Interval < scheduler.MinInterval {
		return scheduler.MinInterval
	}
	return c.Scheduler.Interval
}
