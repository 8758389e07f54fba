package taxonomy

import (
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Table maps a detector's local class ids to canonical classes.
// A Table with a nil Local map is the identity mapping.
type Table struct {
	Local map[int]types.CanonicalClass
}

// Identity returns the identity table
func Identity() Table {
	return Table{}
}

// IsIdentity reports whether t is the identity mapping
func (t Table) IsIdentity() bool {
	return t.Local == nil
}

// TableFromNames builds a table from a detector's ordered local label list and a
// local-name -> canonical-class mapping. Local labels absent from mapping stay unmapped.
func TableFromNames(localNames []string, mapping map[string]types.CanonicalClass) (Table, error) {
	index := make(map[string]int, len(localNames))
	for i, n := range localNames {
		index[n] = i
	}
	local := make(map[int]types.CanonicalClass, len(mapping))
	for name, class := range mapping {
		i, ok := index[name]
		if !ok {
			return Table{}, errors.Errorf("mapping names unknown local class %q", name)
		}
		local[i] = class
	}
	return Table{Local: local}, nil
}

// Remapper converts (source, local id) pairs into canonical classes
type Remapper struct {
	taxonomy *Taxonomy
	tables   map[string]Table
}

// NewRemapper validates every table against tax. Only sources present in tables
// can contribute detections.
func NewRemapper(tax *Taxonomy, tables map[string]Table) (*Remapper, error) {
	copied := make(map[string]Table, len(tables))
	for source, table := range tables {
		if table.IsIdentity() {
			copied[source] = table
			continue
		}
		local := make(map[int]types.CanonicalClass, len(table.Local))
		for id, class := range table.Local {
			if !tax.Contains(class) {
				return nil, errors.Errorf("source %q maps local id %d to unknown class %q", source, id, class)
			}
			local[id] = class
		}
		copied[source] = Table{Local: local}
	}
	return &Remapper{taxonomy: tax, tables: copied}, nil
}

// Taxonomy returns the canonical taxonomy the remapper targets
func (r *Remapper) Taxonomy() *Taxonomy {
	return r.taxonomy
}

// Sources returns the configured source ids (unordered)
func (r *Remapper) Sources() []string {
	out := make([]string, 0, len(r.tables))
	for s := range r.tables {
		out = append(out, s)
	}
	return out
}

// Remap returns the canonical class for localID reported by sourceID.
// ok is false when the pair is unrepresentable; that is expected filtering, not an error.
func (r *Remapper) Remap(sourceID string, localID int) (types.CanonicalClass, bool) {
	table, known := r.tables[sourceID]
	if !known {
		logger.Debug("Taxonomy", "source %s has no mapping table, dropping class %d", sourceID, localID)
		return "", false
	}
	if table.IsIdentity() {
		return r.taxonomy.At(localID)
	}
	class, ok := table.Local[localID]
	if !ok {
		logger.Debug("Taxonomy", "class %d of %s is unrepresentable", localID, sourceID)
	}
	return class, ok
}
