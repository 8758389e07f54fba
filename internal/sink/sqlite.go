package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

const schema = `
	CREATE TABLE IF NOT EXISTS analysis_reports (
		analysis_id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_index INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		detection_count INTEGER NOT NULL,
		total_risk_score DOUBLE NOT NULL,
		weather_severity INTEGER NOT NULL,
		compound_score DOUBLE NOT NULL,
		level TEXT NOT NULL,
		temperature DOUBLE,
		rain DOUBLE,
		snow DOUBLE,
		weather_type TEXT,
		all_detectors_failed INTEGER NOT NULL,
		degraded INTEGER NOT NULL,
		report_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_reports_source ON analysis_reports (source_id, started_at);
	CREATE TABLE IF NOT EXISTS analysis_class_counts (
		analysis_id TEXT NOT NULL,
		class TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (analysis_id, class),
		FOREIGN KEY (analysis_id) REFERENCES analysis_reports (analysis_id)
	);
`

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite stores reports in a local SQLite database
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &SQLite{db: db}, nil
}

// Name returns "sqlite"
func (s *SQLite) Name() string {
	return "sqlite"
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save inserts the report and its class counts in one transaction
func (s *SQLite) Save(ctx context.Context, r *pipeline.Report) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode report")
	}

	var temp, rain, snow sql.NullFloat64
	var wtype sql.NullString
	if r.Weather != nil {
		temp = sql.NullFloat64{Float64: r.Weather.TemperatureC, Valid: true}
		rain = sql.NullFloat64{Float64: r.Weather.RainMM, Valid: true}
		snow = sql.NullFloat64{Float64: r.Weather.SnowMM, Valid: true}
		wtype = sql.NullString{String: r.Weather.Condition, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_reports (
			analysis_id, profile, source_id, source_index, started_at, finished_at,
			detection_count, total_risk_score, weather_severity, compound_score, level,
			temperature, rain, snow, weather_type, all_detectors_failed, degraded, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AnalysisID, r.Profile, r.SourceID, r.SourceIndex,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.Risk.DetectionCount, r.Risk.TotalRiskScore, r.WeatherSeverity, r.CompoundScore, r.Level,
		temp, rain, snow, wtype, r.AllDetectorsFailed, r.Degraded, string(blob),
	)
	if err != nil {
		return errors.Wrap(err, "insert report")
	}

	for class, n := range r.Risk.ClassCounts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO analysis_class_counts (analysis_id, class, count) VALUES (?, ?, ?)",
			r.AnalysisID, string(class), n,
		); err != nil {
			return errors.Wrapf(err, "insert count for %s", class)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Recent returns up to limit reports, newest first. An empty sourceID matches all sources.
func (s *SQLite) Recent(ctx context.Context, sourceID string, limit int) ([]*pipeline.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_json FROM analysis_reports
		WHERE (? = '' OR source_id = ?)
		ORDER BY started_at DESC
		LIMIT ?`, sourceID, sourceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query reports")
	}
	defer rows.Close()

	var reports []*pipeline.Report
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var r pipeline.Report
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, errors.Wrap(err, "decode stored report")
		}
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

// ClassTotals sums detections per class for a source since the given time
func (s *SQLite) ClassTotals(ctx context.Context, sourceID string, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.class, SUM(c.count)
		FROM analysis_class_counts c
		JOIN analysis_reports r ON r.analysis_id = c.analysis_id
		WHERE r.source_id = ? AND r.started_at >= ?
		GROUP BY c.class`, sourceID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, errors.Wrap(err, "query class totals")
	}
	defer rows.Close()

	totals := map[string]int{}
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		totals[class] = n
	}
	return totals, rows.Err()
}
