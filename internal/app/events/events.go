// Package events defines the notification events emitted by the round engine
// and the sinks that deliver them. Emission is fire-and-forget: sinks never
// fail the operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/rumble/pkg/logger"
)

// Type identifies the event kind.
type Type string

const (
	TypeDepositRecorded Type = "deposit_recorded"
	TypeScoresRecorded  Type = "scores_recorded"
	TypeWinnersSelected Type = "winners_selected"
	TypeGameReset       Type = "game_reset"
)

// Event is the envelope common to all notifications. Payload carries the
// type-specific fields and may be nil for events that have none.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	RoundID   string    `json:"round_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// DepositRecorded is emitted once per accepted deposit.
type DepositRecorded struct {
	Depositor string `json:"depositor"`
	Amount    uint64 `json:"amount"`
}

// ScoresRecorded is emitted once per accepted score batch, not per entry.
type ScoresRecorded struct {
	Updated int `json:"updated"`
}

// WinnersSelected is emitted once per settlement.
type WinnersSelected struct {
	Winners   []string `json:"winners"`
	PerWinner uint64   `json:"per_winner"`
	BurnShare uint64   `json:"burn_share"`
}

// GameReset is emitted once per round reset.
type GameReset struct{}

// New builds an event envelope with a fresh id and UTC timestamp.
func New(evtType Type, roundID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      evtType,
		RoundID:   roundID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Sink receives one event per successful state transition.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes one structured log line per event.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &LogSink{log: log}
}

func (s *LogSink) Emit(_ context.Context, evt Event) {
	s.log.WithField("event_id", evt.ID).
		WithField("round_id", evt.RoundID).
		WithField("type", string(evt.Type)).
		Info("round event")
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, evt Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, evt)
		}
	}
}
