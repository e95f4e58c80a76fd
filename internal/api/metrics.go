package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime        time.Time
	requests         atomic.Int64
	serverErrors     atomic.Int64
	clientErrors     atomic.Int64
	templatesCreated atomic.Int64
	versionsSaved    atomic.Int64
	loginsCompleted  atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Requests         int64   `json:"requests"`
	ServerErrors     int64   `json:"server_errors"`
	ClientErrors     int64   `json:"client_errors"`
	TemplatesCreated int64   `json:"templates_created"`
	VersionsSaved    int64   `json:"versions_saved"`
	LoginsCompleted  int64   `json:"logins_completed"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordTemplateCreated increments the created templates counter.
func (m *Metrics) RecordTemplateCreated() {
	m.templatesCreated.Add(1)
}

// RecordVersionSaved increments the saved versions counter.
func (m *Metrics) RecordVersionSaved() {
	m.versionsSaved.Add(1)
}

// RecordLogin increments the completed logins counter (CLI and web).
func (m *Metrics) RecordLogin() {
	m.loginsCompleted.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:    time.Since(m.startTime).Seconds(),
		Requests:         m.requests.Load(),
		ServerErrors:     m.serverErrors.Load(),
		ClientErrors:     m.clientErrors.Load(),
		TemplatesCreated: m.templatesCreated.Load(),
		VersionsSaved:    m.versionsSaved.Load(),
		LoginsCompleted:  m.loginsCompleted.Load(),
	}
}
