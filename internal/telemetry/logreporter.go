package telemetry

import (
	"context"

	"github.com/luksan/rss-im-sweep/internal/logging"
)

// LogStatus writes every status event of hub to logger until ctx is done.
func LogStatus(ctx context.Context, hub *Hub, logger logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.Subsystem("telemetry"))
	ch, cancel := hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fields := []logging.Field{
				{Key: "connected", Value: ev.Connected},
				{Key: "status", Value: ev.Status},
			}
			if ev.InstrumentError != "" {
				fields = append(fields, logging.Field{Key: "instrument_error", Value: ev.InstrumentError})
			}
			logger.Info("connection status", fields...)
		}
	}
}
