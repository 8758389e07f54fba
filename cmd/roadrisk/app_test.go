package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/config"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

func TestProfileInfoDescribesDefaultProfile(t *testing.T) {
	cfg := config.DefaultConfig()
	pc := cfg.Profiles[0]
	profile, err := pc.Build()
	require.NoError(t, err)
	p := pipeline.New(profile, cfg.Controller())

	info := profileInfo(pc, p)
	assert.Equal(t, config.DefaultProfile, info.Name)
	assert.Equal(t, 0.2, info.IoUThreshold)
	require.Len(t, info.Models, 3)
	assert.Equal(t, "yolov8s", info.Models[1].Name)
	assert.Equal(t, 0.5, info.Models[1].Weight)
	assert.Equal(t, []types.CanonicalClass{types.ClassCrack, types.ClassBreak, types.ClassAliCrack}, info.Classes)
	assert.Equal(t, 0.8, info.RiskScores[types.ClassBreak])

	assert.Equal(t, config.RoadDamageLocalNames, info.LocalClasses["yolov8s"])
	assert.Equal(t, types.ClassBreak, info.Mappings["yolov8s"]["D40"])
	assert.NotContains(t, info.LocalClasses, "yolov8n", "canonical detectors have no local table")
	assert.Same(t, p, info.Analyzer)
}
