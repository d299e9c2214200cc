package events

import (
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/events/bus"
)

// Provide builds the process-wide in-memory event bus. A single local
// orchestrator process never needs to fan events out across machines, so
// unlike the teacher this never reaches for a networked bus implementation.
func Provide(log *logger.Logger) (*bus.MemoryEventBus, func() error, error) {
	memBus := bus.NewMemoryEventBus(log)
	return memBus, func() error {
		memBus.Close()
		return nil
	}, nil
}
