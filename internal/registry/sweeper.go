package registry

import (
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// SweepFunc performs one expiry pass and reports how many entries it removed.
type SweepFunc func(now time.Time) int

// Sweeper runs a SweepFunc on a fixed interval until closed. The sweep
// function must take whatever exclusion the swept state requires; the sweeper
// itself only owns the timer.
type Sweeper struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	log      *slog.Logger
	sweep    SweepFunc

	done chan struct{}
	stop chan struct{}
}

func NewSweeper(name string, interval time.Duration, clk clock.Clock, logger *slog.Logger, sweep SweepFunc) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		name:     name,
		interval: interval,
		clock:    clk,
		log:      logger,
		sweep:    sweep,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Run starts the sweep loop in a new goroutine.
func (s *Sweeper) Run() {
	go func() {
		defer close(s.done)
		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				if removed := s.sweep(now); removed > 0 {
					s.log.Info("sweep removed expired entries", "sweeper", s.name, "removed", removed)
				}
			}
		}
	}()
}

// Close stops the sweep loop and waits for it to exit.
func (s *Sweeper) Close() {
	close(s.stop)
	<-s.done
}
