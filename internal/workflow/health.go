package workflow

import (
	"context"

	"revoice/internal/pipeline"
	"revoice/internal/stage"
)

// Health runs every stage handler's health check in pipeline order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	var result []stage.Health
	for _, name := range pipeline.StageNames() {
		handler, ok := m.handlers[name]
		if !ok || handler == nil {
			result = append(result, stage.Unhealthy(string(name), "handler not registered"))
			continue
		}
		result = append(result, handler.HealthCheck(ctx))
	}
	return result
}
