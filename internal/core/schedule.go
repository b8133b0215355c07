package core

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"fleet-rollout/internal/types"
)

const (
	DefaultCleanInterval = 6 * time.Hour
	DefaultErrorInterval = 5 * time.Minute
	DefaultDebugInterval = 30 * time.Second
)

type ScheduleConfig struct {
	Channel       string
	CleanInterval time.Duration
	ErrorInterval time.Duration
	DebugInterval time.Duration
}

// Scheduler picks the wait before the next refresh cycle. Clean cycles
// wait a randomized window around CleanInterval. Errored cycles back off
// exponentially from ErrorInterval but always stay below the shortest clean
// wait. Debug channel devices poll on DebugInterval.
type Scheduler struct {
	cfg     ScheduleConfig
	clean   *backoff.ExponentialBackOff
	errored *backoff.ExponentialBackOff
}

func NewScheduler(cfg ScheduleConfig) *Scheduler {
	if cfg.CleanInterval <= 0 {
		cfg.CleanInterval = DefaultCleanInterval
	}
	if cfg.ErrorInterval <= 0 {
		cfg.ErrorInterval = DefaultErrorInterval
	}
	if cfg.DebugInterval <= 0 {
		cfg.DebugInterval = DefaultDebugInterval
	}
	errorCap := cfg.CleanInterval / 3
	if cfg.ErrorInterval > errorCap {
		cfg.ErrorInterval = errorCap
	}

	clean := backoff.NewExponentialBackOff()
	clean.InitialInterval = cfg.CleanInterval
	clean.RandomizationFactor = 0.5
	clean.Multiplier = 1
	clean.MaxInterval = cfg.CleanInterval
	clean.MaxElapsedTime = 0
	clean.Reset()

	errored := backoff.NewExponentialBackOff()
	errored.InitialInterval = cfg.ErrorInterval
	errored.RandomizationFactor = 0.5
	errored.Multiplier = 2
	errored.MaxInterval = errorCap
	errored.MaxElapsedTime = 0
	errored.Reset()

	return &Scheduler{cfg: cfg, clean: clean, errored: errored}
}

// Next returns the wait after a cycle that ended with or without error.
func (s *Scheduler) Next(cycleFailed bool) time.Duration {
	if s.cfg.Channel == types.ChannelDebug {
		return s.cfg.DebugInterval
	}
	if cycleFailed {
		return s.errored.NextBackOff()
	}
	s.errored.Reset()
	return s.clean.NextBackOff()
}
