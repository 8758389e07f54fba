package webmonitor

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/samber/lo"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

const maxUploadBytes = 20 << 20

// FrameAnalyzer analyses an uploaded frame. *pipeline.Pipeline implements it.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, frame *types.Frame, target pipeline.Target) *pipeline.Report
}

// ModelInfo describes one detector of a profile
type ModelInfo struct {
	Name   string  `json:"name"`
	Model  string  `json:"model,omitempty"`
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

// ProfileInfo describes an analysis profile and the pipeline that runs it
type ProfileInfo struct {
	Name         string
	IoUThreshold float64
	Models       []ModelInfo
	Classes      []types.CanonicalClass
	RiskScores   map[types.CanonicalClass]float64
	// LocalClasses lists each detector's own class names; detectors that emit
	// canonical ids directly are absent.
	LocalClasses map[string][]string
	Mappings     map[string]map[string]types.CanonicalClass
	Analyzer     FrameAnalyzer
}

// WithProfiles serves /api/models, /api/classes and /api/analyze-image.
// The first profile is the default.
func WithProfiles(profiles ...ProfileInfo) Option {
	return func(s *Server) { s.profiles = profiles }
}

// profile resolves the ?profile= query, falling back to the first profile
func (s *Server) profile(w http.ResponseWriter, r *http.Request) (ProfileInfo, bool) {
	if len(s.profiles) == 0 {
		writeJSONWithStatus(w, map[string]any{"error": "no profiles configured"}, http.StatusNotFound)
		return ProfileInfo{}, false
	}
	name := r.FormValue("profile")
	if name == "" {
		return s.profiles[0], true
	}
	p, ok := lo.Find(s.profiles, func(p ProfileInfo) bool { return p.Name == name })
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown profile %q", name)}, http.StatusNotFound)
		return ProfileInfo{}, false
	}
	return p, true
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{
		"profile":          p.Name,
		"models":           p.Models,
		"total_models":     len(p.Models),
		"ensemble_weights": lo.Map(p.Models, func(m ModelInfo, _ int) float64 { return m.Weight }),
		"iou_threshold":    p.IoUThreshold,
		"profiles":         lo.Map(s.profiles, func(pi ProfileInfo, _ int) string { return pi.Name }),
	})
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	local := p.LocalClasses
	if local == nil {
		local = map[string][]string{}
	}
	writeJSON(w, map[string]any{
		"profile":       p.Name,
		"final_classes": p.Classes,
		"local_classes": local,
		"mappings":      p.Mappings,
		"risk_scores":   p.RiskScores,
	})
}

// handleAnalyzeImage runs the profile pipeline on a multipart "image" upload. Optional
// form fields: profile, cctv_idx, lat and lon.
func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid multipart form: " + err.Error()}, http.StatusBadRequest)
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	if p.Analyzer == nil {
		writeJSONWithStatus(w, map[string]any{"error": "profile has no analyzer"}, http.StatusNotFound)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "image file is required"}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, err := imaging.Decode(file, imaging.AutoOrientation(true))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "could not decode image: " + err.Error()}, http.StatusBadRequest)
		return
	}

	target := pipeline.Target{Name: filepath.Base(header.Filename)}
	if raw := r.FormValue("cctv_idx"); raw != "" {
		if target.Index, err = strconv.Atoi(raw); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "cctv_idx must be an integer"}, http.StatusBadRequest)
			return
		}
	}
	if lat, lon := r.FormValue("lat"), r.FormValue("lon"); lat != "" && lon != "" {
		latV, latErr := strconv.ParseFloat(lat, 64)
		lonV, lonErr := strconv.ParseFloat(lon, 64)
		if latErr != nil || lonErr != nil {
			writeJSONWithStatus(w, map[string]any{"error": "lat and lon must be numbers"}, http.StatusBadRequest)
			return
		}
		target.Location = &pipeline.Location{Lat: latV, Lon: lonV}
	}

	frame := &types.Frame{
		Image:      img,
		SourceID:   "upload:" + target.Name,
		CapturedAt: time.Now(),
		Attempt:    1,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ForceTimeout)
	defer cancel()
	writeJSON(w, p.Analyzer.AnalyzeFrame(ctx, frame, target))
}
