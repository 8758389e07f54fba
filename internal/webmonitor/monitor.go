package webmonitor

import (
	"sync"
	"time"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

// Monitor keeps the latest report per source and a short history for the dashboard.
type Monitor struct {
	startTime   time.Time
	historySize int

	mu       sync.Mutex
	received int
	latest   map[string]ReportSummary
	history  []ReportSummary
	maxTotal float64
}

// NewMonitor creates a Monitor keeping up to historySize recent reports.
func NewMonitor(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{
		startTime:   time.Now(),
		historySize: historySize,
		latest:      make(map[string]ReportSummary),
	}
}

// UpdateReport stores a new report.
func (m *Monitor) UpdateReport(r *pipeline.Report) ReportSummary {
	summary := summarize(r)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.received++
	m.latest[summary.SourceID] = summary
	if summary.TotalScore > m.maxTotal {
		m.maxTotal = summary.TotalScore
	}
	m.history = append([]ReportSummary{summary}, m.history...)
	if len(m.history) > m.historySize {
		m.history = m.history[:m.historySize]
	}
	return summary
}

// Latest returns the latest summary for a source.
func (m *Monitor) Latest(sourceID string) (ReportSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.latest[sourceID]
	return s, ok
}

// Snapshot returns the current stats and a copy of the history, newest first.
func (m *Monitor) Snapshot() (MonitorStats, []ReportSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		ReportsReceived: m.received,
		SourcesReported: len(m.latest),
		MaxTotalScore:   m.maxTotal,
		UptimeSeconds:   int(time.Since(m.startTime).Seconds()),
	}

	historyCopy := make([]ReportSummary, len(m.history))
	copy(historyCopy, m.history)

	return stats, historyCopy
}
