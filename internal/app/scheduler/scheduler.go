// Package scheduler drives periodic round cycling: settle rounds that have
// accumulated deposits on one cron schedule and reset settled rounds on
// another. Rounds that are not in the right state for a job are skipped, not
// failed; the round engine's own preconditions stay authoritative.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/metrics"
	"github.com/R3E-Network/rumble/internal/app/services/rounds"
	"github.com/R3E-Network/rumble/internal/app/system"
	"github.com/R3E-Network/rumble/pkg/logger"
)

const (
	// DefaultSettleSpec settles eligible rounds at the top of every hour.
	DefaultSettleSpec = "0 * * * *"

	// DefaultResetSpec reopens settled rounds ten minutes past every hour.
	DefaultResetSpec = "10 * * * *"

	jobTimeout = 2 * time.Minute
)

// RoundCycler is the slice of the round engine the scheduler drives.
type RoundCycler interface {
	List(ctx context.Context) ([]round.Round, error)
	SelectWinners(ctx context.Context, roundID string) (round.Settlement, error)
	Reset(ctx context.Context, roundID string) (round.Round, error)
}

// Config holds the cron specs for the two jobs. Empty specs take defaults.
type Config struct {
	SettleSpec string
	ResetSpec  string
}

// Service runs the settle and reset jobs on their cron schedules.
type Service struct {
	engine     RoundCycler
	settleSpec string
	resetSpec  string
	log        *logger.Logger

	cron *cron.Cron
}

var _ system.Service = (*Service)(nil)

// New validates the cron specs and builds the scheduler.
func New(engine RoundCycler, cfg Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	settleSpec := cfg.SettleSpec
	if settleSpec == "" {
		settleSpec = DefaultSettleSpec
	}
	resetSpec := cfg.ResetSpec
	if resetSpec == "" {
		resetSpec = DefaultResetSpec
	}
	if _, err := cron.ParseStandard(settleSpec); err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(resetSpec); err != nil {
		return nil, err
	}
	return &Service{
		engine:     engine,
		settleSpec: settleSpec,
		resetSpec:  resetSpec,
		log:        log,
	}, nil
}

func (s *Service) Name() string { return "scheduler" }

func (s *Service) Start(context.Context) error {
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.settleSpec, s.settleJob); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.resetSpec, s.resetJob); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.log.WithField("settle_spec", s.settleSpec).
		WithField("reset_spec", s.resetSpec).
		Info("round scheduler started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	s.cron = nil

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) settleJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RunSettle(ctx)
}

func (s *Service) resetJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RunReset(ctx)
}

// RunSettle settles every round that has deposits and is not already
// settled. It returns the number of rounds settled.
func (s *Service) RunSettle(ctx context.Context) int {
	start := time.Now()
	settled := 0
	success := true

	roundsList, err := s.engine.List(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list rounds for settle failed")
		metrics.RecordScheduledRun("settle", time.Since(start), false)
		return 0
	}

	for _, r := range roundsList {
		if r.Active || r.TotalDeposits == 0 {
			continue
		}
		st, err := s.engine.SelectWinners(ctx, r.ID)
		if err != nil {
			if errors.Is(err, rounds.ErrNoDeposits) || errors.Is(err, rounds.ErrRoundAlreadyActive) {
				continue
			}
			success = false
			s.log.WithError(err).WithField("round_id", r.ID).Warn("scheduled settle failed")
			continue
		}
		settled++
		s.log.WithField("round_id", r.ID).
			WithField("winners", len(st.Winners)).
			Info("round settled on schedule")
	}

	metrics.RecordScheduledRun("settle", time.Since(start), success)
	return settled
}

// RunReset reopens every settled round. It returns the number of rounds
// reset.
func (s *Service) RunReset(ctx context.Context) int {
	start := time.Now()
	reset := 0
	success := true

	roundsList, err := s.engine.List(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list rounds for reset failed")
		metrics.RecordScheduledRun("reset", time.Since(start), false)
		return 0
	}

	for _, r := range roundsList {
		if !r.Active {
			continue
		}
		if _, err := s.engine.Reset(ctx, r.ID); err != nil {
			if errors.Is(err, rounds.ErrRoundNotActive) {
				continue
			}
			success = false
			s.log.WithError(err).WithField("round_id", r.ID).Warn("scheduled reset failed")
			continue
		}
		reset++
		s.log.WithField("round_id", r.ID).Info("round reset on schedule")
	}

	metrics.RecordScheduledRun("reset", time.Since(start), success)
	return reset
}
