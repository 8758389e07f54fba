package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/archive"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/config"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/metrics"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/scheduler"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/sink"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/weather"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/webmonitor"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Server wires the analysis service together
type Server struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	db         *sink.SQLite
	sinks      *sink.Multi
	archive    *archive.Archive
	scheduler  *scheduler.Service
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig), c.StringSlice(flagEnvFile)...)
	if err != nil {
		return nil, err
	}
	if lvl := c.String(flagLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) error {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, logger.RotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups))
	}
	logger.Init(level, out, cfg.Color)
	logger.Info("Main", "Log level: %s", level)
	return nil
}

// buildSinks opens every configured result sink. The SQLite sink is returned separately
// for history queries and may be nil.
func buildSinks(cfg *config.Config, m *metrics.Metrics) (*sink.Multi, *sink.SQLite, error) {
	var (
		sinks []sink.Sink
		db    *sink.SQLite
	)
	if cfg.Storage.SQLitePath != "" {
		var err error
		db, err = sink.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
	}
	if cfg.Storage.ReportURL != "" {
		sinks = append(sinks, sink.NewHTTP(cfg.Storage.ReportURL, cfg.Storage.Timeout))
	}
	if cfg.Storage.RoadScoreURL != "" {
		sinks = append(sinks, sink.NewHTTP(cfg.Storage.RoadScoreURL, cfg.Storage.Timeout))
	}
	var observer sink.ErrorObserver
	if m != nil {
		observer = m
	}
	return sink.NewMulti(observer, sinks...), db, nil
}

func pipelineOptions(cfg *config.Config, m *metrics.Metrics, arc *archive.Archive) []pipeline.Option {
	var opts []pipeline.Option
	if cfg.Weather.APIKey != "" {
		opts = append(opts, pipeline.WithWeather(
			weather.NewOpenWeatherMap(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout)))
	} else {
		logger.Warn("Main", "No weather API key configured, scores will not include weather")
	}
	if arc != nil {
		opts = append(opts, pipeline.WithArchive(arc))
	}
	if m != nil {
		opts = append(opts, pipeline.WithObserver(m))
	}
	if cfg.Capture.Degraded {
		opts = append(opts, pipeline.WithDegradedMode())
	}
	return opts
}

// profileInfo describes pc for the monitor's model, class and upload endpoints
func profileInfo(pc config.ProfileConfig, p *pipeline.Pipeline) webmonitor.ProfileInfo {
	info := webmonitor.ProfileInfo{
		Name:         pc.Name,
		IoUThreshold: pc.IoUThreshold,
		Models: lo.Map(pc.Detectors, func(d config.DetectorConfig, _ int) webmonitor.ModelInfo {
			return webmonitor.ModelInfo{Name: d.ID, Model: d.Model, URL: d.URL, Weight: d.Weight}
		}),
		Classes:      lo.Map(pc.Classes, func(c taxonomy.ClassSpec, _ int) types.CanonicalClass { return c.Name }),
		RiskScores:   lo.SliceToMap(pc.Classes, func(c taxonomy.ClassSpec) (types.CanonicalClass, float64) { return c.Name, c.RiskWeight }),
		LocalClasses: make(map[string][]string),
		Mappings:     make(map[string]map[string]types.CanonicalClass),
		Analyzer:     p,
	}
	for _, d := range pc.Detectors {
		if len(d.LocalNames) == 0 {
			continue
		}
		info.LocalClasses[d.ID] = d.LocalNames
		info.Mappings[d.ID] = d.Mapping
	}
	return info
}

// NewServer builds the service from cfg
func NewServer(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, metrics: metrics.New()}

	sinks, db, err := buildSinks(cfg, s.metrics)
	if err != nil {
		return nil, err
	}
	s.sinks, s.db = sinks, db

	if cfg.Archive.Enabled {
		s.archive = archive.New(cfg.Archive.Path, cfg.Archive.Quality)
		if err := s.archive.Start(); err != nil {
			return nil, multierr.Append(err, s.closeDB())
		}
	}

	controller := cfg.Controller()
	controller.Observer = s.metrics
	opts := pipelineOptions(cfg, s.metrics, s.archive)

	pipelines := make(map[string]*pipeline.Pipeline, len(cfg.Profiles))
	infos := make([]webmonitor.ProfileInfo, 0, len(cfg.Profiles))
	for _, pc := range cfg.Profiles {
		profile, err := pc.Build()
		if err != nil {
			return nil, multierr.Append(err, s.closeDB())
		}
		pipelines[pc.Name] = pipeline.New(profile, controller, opts...)
		infos = append(infos, profileInfo(pc, pipelines[pc.Name]))
		logger.Info("Main", "Profile %q: detectors %v, IoU %.2f", pc.Name,
			profile.Ensemble.SourceIDs(), profile.Ensemble.Engine().IoUThreshold())
	}

	router := pipeline.NewRouter()
	targets := make([]pipeline.Target, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		router.Bind(cam.ID, pipelines[cfg.ProfileFor(cam)])
		targets = append(targets, cfg.Target(cam))
	}
	if len(targets) == 0 {
		logger.Warn("Main", "No cameras configured (set cameras in the config file or CCTV_URL)")
	}

	s.scheduler = scheduler.New(router, targets, cfg.SchedulerInterval(),
		scheduler.WithSink(s.sinks),
		scheduler.WithReportHook(func(r *pipeline.Report) { s.monitor.Publish(r) }),
	)

	monitorOpts := []webmonitor.Option{
		webmonitor.WithMetrics(s.metrics.Handler()),
		webmonitor.WithProfiles(infos...),
	}
	if s.db != nil {
		monitorOpts = append(monitorOpts, webmonitor.WithHistoryStore(s.db))
	}
	if s.archive != nil {
		monitorOpts = append(monitorOpts, webmonitor.WithArchive(s.archive))
	}
	s.monitor = webmonitor.NewServer(cfg.Monitor, s.scheduler, monitorOpts...)

	s.httpServer = &http.Server{
		Addr:              cfg.Monitor.Addr,
		Handler:           s.monitor.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start starts the HTTP server and, when requested, the schedule
func (s *Server) Start(autoStart bool) error {
	go func() {
		logger.Info("Main", "Monitor listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if autoStart {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
		logger.Info("Main", "Scheduler started, interval %v", s.scheduler.Interval())
	}
	return nil
}

// Shutdown stops the schedule, the HTTP server and the sinks
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.scheduler.IsRunning() {
		err = multierr.Append(err, s.scheduler.Stop())
	}
	err = multierr.Append(err, s.httpServer.Shutdown(ctx))
	if s.archive != nil && s.archive.IsRunning() {
		err = multierr.Append(err, s.archive.Stop())
	}
	err = multierr.Append(err, s.closeDB())
	_ = logger.Sync()
	return err
}

func (s *Server) closeDB() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ServeAction runs the service until SIGINT or SIGTERM
func ServeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg.Log); err != nil {
		return err
	}
	logger.Info("Main", "Road risk service starting...")

	srv, err := NewServer(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	if err := srv.Start(cfg.Scheduler.AutoStart || c.Bool(flagAutoStart)); err != nil {
		return multierr.Append(errors.Wrap(err, "failed to start server"), srv.Shutdown(context.Background()))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-c.Context.Done():
	}

	logger.Info("Main", "Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
		return err
	}
	logger.Info("Main", "Server stopped")
	return nil
}

// AnalyzeAction analyses image files once and prints the reports as JSON
func AnalyzeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg.Log); err != nil {
		return err
	}

	pc := cfg.Profiles[0]
	if name := c.String(flagProfile); name != "" {
		found := false
		for _, p := range cfg.Profiles {
			if p.Name == name {
				pc, found = p, true
				break
			}
		}
		if !found {
			return errors.Errorf("unknown profile %q", name)
		}
	}
	profile, err := pc.Build()
	if err != nil {
		return err
	}

	var (
		sinks *sink.Multi
		db    *sink.SQLite
	)
	if c.Bool(flagSave) {
		if sinks, db, err = buildSinks(cfg, nil); err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
	}

	p := pipeline.New(profile, cfg.Controller(), pipelineOptions(cfg, nil, nil)...)
	target := pipeline.Target{Index: c.Int(flagIndex)}
	if c.IsSet(flagLat) && c.IsSet(flagLon) {
		target.Location = &pipeline.Location{Lat: c.Float64(flagLat), Lon: c.Float64(flagLon)}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	var errs error
	for _, path := range c.StringSlice(flagImage) {
		img, err := imaging.Open(path)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "open %s", path))
			continue
		}
		frame := &types.Frame{Image: img, SourceID: path, CapturedAt: time.Now(), Attempt: 1}
		target.Name = path
		report := p.AnalyzeFrame(c.Context, frame, target)

		if sinks != nil {
			if err := sinks.Save(c.Context, report); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return errs
}
