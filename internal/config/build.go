package config

import (
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/brightness"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/capture"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/detector"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/fusion"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/risk"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
)

func (d DetectorConfig) table(tax *taxonomy.Taxonomy) (taxonomy.Table, error) {
	if len(d.LocalNames) == 0 {
		if len(d.Mapping) > 0 {
			return taxonomy.Table{}, errors.New("mapping requires local_names")
		}
		return taxonomy.Identity(), nil
	}
	table, err := taxonomy.TableFromNames(d.LocalNames, d.Mapping)
	if err != nil {
		return taxonomy.Table{}, err
	}
	for _, class := range table.Local {
		if !tax.Contains(class) {
			return taxonomy.Table{}, errors.Errorf("mapping names unknown class %q", class)
		}
	}
	return table, nil
}

// Build creates the runtime profile with remote detectors.
func (p ProfileConfig) Build() (pipeline.Profile, error) {
	detectors := make([]fusion.Detector, 0, len(p.Detectors))
	for _, d := range p.Detectors {
		detectors = append(detectors, detector.NewRemote(d.ID, d.URL, d.Model, d.Timeout))
	}
	return p.BuildWith(detectors...)
}

// BuildWith creates the runtime profile around the given detectors. Detector
// source ids must match the configured detector ids.
func (p ProfileConfig) BuildWith(detectors ...fusion.Detector) (pipeline.Profile, error) {
	tax, err := taxonomy.New(p.Classes)
	if err != nil {
		return pipeline.Profile{}, errors.Wrapf(err, "profile %q", p.Name)
	}

	tables := make(map[string]taxonomy.Table, len(p.Detectors))
	weights := make(map[string]float64, len(p.Detectors))
	for _, d := range p.Detectors {
		table, err := d.table(tax)
		if err != nil {
			return pipeline.Profile{}, errors.Wrapf(err, "profile %q detector %q", p.Name, d.ID)
		}
		tables[d.ID] = table
		weights[d.ID] = d.Weight
	}

	remapper, err := taxonomy.NewRemapper(tax, tables)
	if err != nil {
		return pipeline.Profile{}, errors.Wrapf(err, "profile %q", p.Name)
	}
	engine := fusion.NewEngine(remapper, weights, p.IoUThreshold)

	return pipeline.Profile{
		Name:     p.Name,
		Ensemble: fusion.NewEnsemble(engine, detectors...),
		Scorer:   risk.NewScorer(tax),
	}, nil
}

// Controller creates the capture controller.
func (c *Config) Controller() *capture.Controller {
	ctrl := capture.NewController(c.Capture.MaxRetries, c.Capture.RetryDelay)
	ctrl.Validator = brightness.NewValidator(c.Capture.BlankThreshold)
	return ctrl
}

// Target creates the analysis target for a camera.
func (c *Config) Target(cam CameraConfig) pipeline.Target {
	name := cam.Name
	if name == "" {
		name = cam.ID
	}
	return pipeline.Target{
		Source:   capture.NewHTTPSource(cam.ID, cam.URL, c.Capture.Timeout),
		Index:    cam.Index,
		Name:     name,
		Location: cam.Location,
	}
}
