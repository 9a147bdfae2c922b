package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/model"
)

// Emitter fans events out to every publisher. Delivery is best effort:
// a failing sink is logged and never fails the write that caused it.
type Emitter struct {
	publishers []Publisher
	log        zerolog.Logger
}

func NewEmitter(log zerolog.Logger, publishers ...Publisher) *Emitter {
	return &Emitter{
		publishers: publishers,
		log:        log.With().Str("component", "events").Logger(),
	}
}

// SessionChanged implements repository.Observer.
func (e *Emitter) SessionChanged(ctx context.Context, before, after *model.Session) {
	e.Emit(ctx, Diff(before, after)...)
}

func (e *Emitter) Emit(ctx context.Context, evs ...Event) {
	if len(evs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, p := range e.publishers {
		if err := p.Publish(ctx, evs...); err != nil {
			e.log.Warn().Err(err).
				Str("session_id", evs[0].SessionID).
				Str("event_type", string(evs[0].Type)).
				Int("count", len(evs)).
				Msg("Event delivery failed")
		}
	}
}

func (e *Emitter) Close() error {
	var first error
	for _, p := range e.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ViolationRecorded implements proctoring.Notifier.
func (e *Emitter) ViolationRecorded(ctx context.Context, v model.ProctoringViolation) {
	e.Emit(ctx, ViolationEvent(v))
}
