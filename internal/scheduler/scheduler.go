package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Scheduler owns the metrics and topology timers.
type Scheduler struct {
	Metrics  *Timer
	Topology *Timer
}

// New builds both timers in the stopped state.
func New(ctx context.Context, pollMetrics, pollTopology PollFunc) *Scheduler {
	return &Scheduler{
		Metrics:  NewTimer(ctx, ChannelMetrics, pollMetrics),
		Topology: NewTimer(ctx, ChannelTopology, pollTopology),
	}
}

// Timer looks a timer up by channel name.
func (s *Scheduler) Timer(channel string) (*Timer, error) {
	switch channel {
	case ChannelMetrics:
		return s.Metrics, nil
	case ChannelTopology:
		return s.Topology, nil
	}
	return nil, fmt.Errorf("scheduler: unknown channel %q", channel)
}

// Start starts both timers.
func (s *Scheduler) Start(metricsInterval, topologyInterval time.Duration) error {
	if err := s.Metrics.Start(metricsInterval); err != nil {
		return err
	}
	if err := s.Topology.Start(topologyInterval); err != nil {
		s.Metrics.Stop()
		return err
	}
	return nil
}

// Stop stops both timers.
func (s *Scheduler) Stop() {
	s.Metrics.Stop()
	s.Topology.Stop()
}

// Wait waits for both timers; see Timer.Wait.
func (s *Scheduler) Wait(ctx context.Context) error {
	if err := s.Metrics.Wait(ctx); err != nil {
		return err
	}
	return s.Topology.Wait(ctx)
}
