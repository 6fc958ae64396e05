package workflow

import (
	"context"

	"docflow/internal/stage"
)

// Health runs every registered stage's health check and reports the results in
// pipeline order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	m.mu.RLock()
	stages := make([]pipelineStage, len(m.stages))
	copy(stages, m.stages)
	m.mu.RUnlock()

	results := make([]stage.Health, 0, len(stages))
	for _, st := range stages {
		if st.handler == nil {
			results = append(results, stage.Unhealthy(st.name, "no handler registered"))
			continue
		}
		results = append(results, st.handler.HealthCheck(ctx))
	}
	return results
}
