package health

import (
	"context"
	"sync"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/source"
)

// Checker probes one backing service.
type Checker interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the database, the sanctions mirror
// and every chain's node source.
type Monitor struct {
	db         Checker
	sanctions  Checker
	sources    map[domain.ChainID]source.NodeSource
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a health monitor. Either checker may be nil when the
// deployment runs without that backend.
func NewMonitor(db, sanctions Checker, sources map[domain.ChainID]source.NodeSource) *Monitor {
	return &Monitor{
		db:        db,
		sanctions: sanctions,
		sources:   sources,
	}
}

// CheckHealth probes every dependency and aggregates the worst status.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks (max once per 10s) to avoid spamming backends
	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
		Chains:       make(map[string]ChainHealth),
	}

	// Storage down means no scoring at all.
	report.Components["postgres"] = probeComponent(ctx, "postgres", m.db, StatusCritical)
	report.Components["redis"] = probeComponent(ctx, "redis", m.sanctions, StatusCritical)

	// A dead node source degrades its chain; the rest keep serving.
	for chainID, src := range m.sources {
		chain := ChainHealth{
			ChainID:  string(chainID),
			Provider: src.Name(),
			Status:   StatusHealthy,
		}
		if err := src.Health(ctx); err != nil {
			chain.Status = StatusDegraded
			chain.Error = err.Error()
		}
		report.Chains[string(chainID)] = chain
	}

	for _, c := range report.Components {
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}
	for _, c := range report.Chains {
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func probeComponent(ctx context.Context, name string, c Checker, onError SystemStatus) ComponentHealth {
	health := ComponentHealth{Name: name, Status: StatusHealthy}
	if c == nil {
		return health
	}
	if err := c.Health(ctx); err != nil {
		health.Status = onError
		health.Error = err.Error()
	}
	return health
}

func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
