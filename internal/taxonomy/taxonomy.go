// Package taxonomy holds the canonical class table and the per-detector remapping
// from local class ids into it. Both are immutable once built.
package taxonomy

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// ClassSpec declares one canonical class and its static risk weight
type ClassSpec struct {
	Name       types.CanonicalClass `yaml:"name" json:"name"`
	RiskWeight float64              `yaml:"risk_weight" json:"risk_weight"`
}

// Taxonomy is the ordered canonical class list with risk weights
type Taxonomy struct {
	classes []types.CanonicalClass
	weights map[types.CanonicalClass]float64
}

// DefaultClasses is the road-damage taxonomy
var DefaultClasses = []ClassSpec{
	{Name: types.ClassCrack, RiskWeight: 0.65},
	{Name: types.ClassBreak, RiskWeight: 0.8},
	{Name: types.ClassAliCrack, RiskWeight: 0.7},
}

// New validates specs and builds a Taxonomy. Order is preserved; it defines the
// identity mapping (local id i -> specs[i]).
func New(specs []ClassSpec) (*Taxonomy, error) {
	if len(specs) == 0 {
		return nil, errors.New("taxonomy needs at least one class")
	}
	t := &Taxonomy{
		classes: make([]types.CanonicalClass, 0, len(specs)),
		weights: make(map[types.CanonicalClass]float64, len(specs)),
	}
	for _, s := range specs {
		if s.Name == "" {
			return nil, errors.New("class name must not be empty")
		}
		if s.RiskWeight < 0 {
			return nil, errors.Errorf("class %q has negative risk weight %v", s.Name, s.RiskWeight)
		}
		if _, dup := t.weights[s.Name]; dup {
			return nil, errors.Errorf("class %q declared twice", s.Name)
		}
		t.classes = append(t.classes, s.Name)
		t.weights[s.Name] = s.RiskWeight
	}
	return t, nil
}

// Default returns the road-damage taxonomy
func Default() *Taxonomy {
	t, err := New(DefaultClasses)
	if err != nil {
		panic(err)
	}
	return t
}

// Classes returns a copy of the canonical classes in declaration order
func (t *Taxonomy) Classes() []types.CanonicalClass {
	return append([]types.CanonicalClass(nil), t.classes...)
}

// Len returns the number of canonical classes
func (t *Taxonomy) Len() int {
	return len(t.classes)
}

// Contains reports whether c is a canonical class
func (t *Taxonomy) Contains(c types.CanonicalClass) bool {
	_, ok := t.weights[c]
	return ok
}

// RiskWeight returns the static risk weight of c
func (t *Taxonomy) RiskWeight(c types.CanonicalClass) (float64, bool) {
	w, ok := t.weights[c]
	return w, ok
}

// At returns the class at index i (identity mapping)
func (t *Taxonomy) At(i int) (types.CanonicalClass, bool) {
	if i < 0 || i >= len(t.classes) {
		return "", false
	}
	return t.classes[i], true
}

// Index returns the position of c, or -1
func (t *Taxonomy) Index(c types.CanonicalClass) int {
	return lo.IndexOf(t.classes, c)
}

// ZeroCounts returns a count map with every canonical class set to 0
func (t *Taxonomy) ZeroCounts() map[types.CanonicalClass]int {
	return lo.SliceToMap(t.classes, func(c types.CanonicalClass) (types.CanonicalClass, int) {
		return c, 0
	})
}
