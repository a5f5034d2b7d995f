package events

import (
	"context"

	"github.com/R3E-Network/rumble/pkg/logger"
)

// Archive is the slice of the event store this package needs. The storage
// package's implementations satisfy it.
type Archive interface {
	AppendEvent(ctx context.Context, evt Event) (Event, error)
}

// StoreSink persists events so the history endpoints can serve them later.
// Persistence failures are logged and swallowed; notification delivery never
// fails the operation that emitted the event.
type StoreSink struct {
	archive Archive
	log     *logger.Logger
}

// NewStoreSink returns a sink appending to the given archive.
func NewStoreSink(archive Archive, log *logger.Logger) *StoreSink {
	if log == nil {
		log = logger.NewDefault("events-store")
	}
	return &StoreSink{archive: archive, log: log}
}

func (s *StoreSink) Emit(ctx context.Context, evt Event) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.AppendEvent(ctx, evt); err != nil {
		s.log.WithError(err).
			WithField("event_id", evt.ID).
			Warn("archive event failed")
	}
}
