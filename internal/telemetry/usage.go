package telemetry

import (
	"context"

	"github.com/rs/zerolog/log"
)

// UsageReporter records component usage. The hosted SDK sends these to an
// analytics endpoint; here they end up as a counter and a debug line.
type UsageReporter struct{}

func (UsageReporter) ReportUsage(_ context.Context, roomID string, component string) error {
	ServiceOperationCounter.WithLabelValues("component_usage", "success", "").Inc()
	log.Debug().Str("service", "telemetry").Str("roomID", roomID).Str("component", component).Msg("component usage")

	return nil
}
