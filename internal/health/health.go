// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the probe result for one backing service.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// ChainHealth is the probe result for one chain's node source.
type ChainHealth struct {
	ChainID  string       `json:"chain_id"`
	Provider string       `json:"provider"`
	Status   SystemStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Chains       map[string]ChainHealth     `json:"chains"`
}
