package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleet-rollout/internal/types"
)

func TestSchedulerDebugChannelFixed(t *testing.T) {
	s := NewScheduler(ScheduleConfig{Channel: types.ChannelDebug, DebugInterval: 10 * time.Second})
	for i := 0; i < 5; i++ {
		assert.Equal(t, 10*time.Second, s.Next(i%2 == 0))
	}
}

func TestSchedulerErrorWindowShorterThanClean(t *testing.T) {
	clean := time.Hour
	s := NewScheduler(ScheduleConfig{Channel: "release", CleanInterval: clean, ErrorInterval: time.Minute})

	for i := 0; i < 50; i++ {
		wait := s.Next(false)
		assert.GreaterOrEqual(t, wait, clean/2)
		assert.LessOrEqual(t, wait, clean+clean/2)
	}
	for i := 0; i < 50; i++ {
		wait := s.Next(true)
		assert.Greater(t, wait, time.Duration(0))
		assert.LessOrEqual(t, wait, clean/2)
	}
}

func TestSchedulerErrorBackoffResetsAfterCleanCycle(t *testing.T) {
	s := NewScheduler(ScheduleConfig{Channel: "release", CleanInterval: 30 * time.Hour, ErrorInterval: time.Minute})
	for i := 0; i < 8; i++ {
		s.Next(true)
	}
	s.Next(false)
	assert.LessOrEqual(t, s.Next(true), time.Minute+time.Minute/2)
}
