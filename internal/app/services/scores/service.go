// Package scores ingests trading scores from authorised scorer callers,
// screens each submission against a volume anomaly rule, and forwards the
// validated batch to the round engine. Anomaly verdicts are cached for a
// flagging window so repeated submissions reuse the same verdict.
package scores

import (
	"context"
	"math"
	"time"

	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/services/rounds"
	"github.com/R3E-Network/rumble/pkg/logger"
)

const (
	// DefaultAnomalyThreshold is the combined buy+sell volume above which a
	// participant is flagged and its submitted score discarded.
	DefaultAnomalyThreshold uint64 = 100000

	// DefaultFlagTTL is how long an anomaly verdict, flagged or clean,
	// stays authoritative before the volumes are re-examined.
	DefaultFlagTTL = time.Hour
)

// Submission is one scorer-reported entry: the score plus the activity
// aggregates that back it. Only the volumes feed the anomaly rule; the
// remaining aggregates are model features carried for audit.
type Submission struct {
	Identity     string
	Score        uint32
	HoldDuration uint64
	BuyVolume    uint64
	SellVolume   uint64
	TxFrequency  uint32
}

// Result summarises one ingested batch.
type Result struct {
	Round    round.Round
	Accepted int
	Flagged  []string
}

// ScoreRecorder is the slice of the round engine this service drives.
type ScoreRecorder interface {
	RecordScores(ctx context.Context, roundID string, entries []rounds.ScoreEntry) (round.Round, error)
}

// FlagCache stores anomaly verdicts per identity. found reports whether a
// verdict is cached and still valid.
type FlagCache interface {
	Get(ctx context.Context, identity string) (flagged, found bool, err error)
	Set(ctx context.Context, identity string, flagged bool) error
}

// Config tunes the anomaly screen. Zero values take the defaults.
type Config struct {
	AnomalyThreshold uint64
	FlagTTL          time.Duration
}

// Service screens and records score submissions.
type Service struct {
	recorder  ScoreRecorder
	flags     FlagCache
	threshold uint64
	log       *logger.Logger
}

// New constructs the scorer ingestion service. A nil cache falls back to an
// in-process one; a nil logger gets the package default.
func New(recorder ScoreRecorder, flags FlagCache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scores")
	}
	threshold := cfg.AnomalyThreshold
	if threshold == 0 {
		threshold = DefaultAnomalyThreshold
	}
	if flags == nil {
		ttl := cfg.FlagTTL
		if ttl <= 0 {
			ttl = DefaultFlagTTL
		}
		flags = NewMemoryFlagCache(ttl)
	}
	return &Service{
		recorder:  recorder,
		flags:     flags,
		threshold: threshold,
		log:       log,
	}
}

// Ingest screens a batch and records the surviving scores on the round.
// Flagged identities are recorded with score zero rather than dropped, so a
// previously recorded score cannot survive an anomaly verdict.
func (s *Service) Ingest(ctx context.Context, roundID string, subs []Submission) (Result, error) {
	entries := make([]rounds.ScoreEntry, 0, len(subs))
	var flagged []string

	for _, sub := range subs {
		anomalous := s.screen(ctx, sub)
		score := sub.Score
		if anomalous {
			score = 0
			flagged = append(flagged, sub.Identity)
		}
		entries = append(entries, rounds.ScoreEntry{Identity: sub.Identity, Score: score})
	}

	r, err := s.recorder.RecordScores(ctx, roundID, entries)
	if err != nil {
		return Result{}, err
	}

	if len(flagged) > 0 {
		s.log.WithField("round_id", roundID).
			WithField("flagged", len(flagged)).
			Warn("anomalous submissions zeroed")
	}
	return Result{Round: r, Accepted: len(entries), Flagged: flagged}, nil
}

// screen returns the anomaly verdict for one submission. Verdicts are cached
// both ways; a cached verdict wins until it expires. Cache failures fall
// back to a fresh computation.
func (s *Service) screen(ctx context.Context, sub Submission) bool {
	if flagged, found, err := s.flags.Get(ctx, sub.Identity); err != nil {
		s.log.WithError(err).WithField("identity", sub.Identity).Warn("flag cache read failed")
	} else if found {
		return flagged
	}

	anomalous := sub.BuyVolume > math.MaxUint64-sub.SellVolume ||
		sub.BuyVolume+sub.SellVolume > s.threshold

	if err := s.flags.Set(ctx, sub.Identity, anomalous); err != nil {
		s.log.WithError(err).WithField("identity", sub.Identity).Warn("flag cache write failed")
	}
	return anomalous
}
