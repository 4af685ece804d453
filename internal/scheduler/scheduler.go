// Package scheduler triggers the daily affiliate reconciliation in-process.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/service"
)

// SyncRunner is satisfied by *service.ReconcileService.
type SyncRunner interface {
	Run(ctx context.Context) (*service.SyncReport, error)
}

// Config controls when and for how long the daily run happens.
type Config struct {
	HourUTC int
	Timeout time.Duration
	// Tick is how often the loop checks whether the next run is due.
	Tick time.Duration
}

// Scheduler runs SyncRunner once a day at Config.HourUTC.
type Scheduler struct {
	runner SyncRunner
	cfg    Config
	log    *zap.SugaredLogger
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	lastRun  time.Time
	nextRun  time.Time
}

func New(runner SyncRunner, cfg Config, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	return &Scheduler{runner: runner, cfg: cfg, log: log, now: time.Now}
}

// Start launches the loop.  Starting twice is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.nextRun = nextAt(s.now().UTC(), s.cfg.HourUTC)
	s.log.Infow("affiliate sync scheduled", "next_run", s.nextRun)

	s.wg.Add(1)
	go s.loop(s.stopChan)
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
}

// Status reports the last and next run times.
func (s *Scheduler) Status() (running bool, lastRun, nextRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun, s.nextRun
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := s.now().UTC()
			s.mu.Lock()
			due := !now.Before(s.nextRun)
			s.mu.Unlock()
			if due {
				s.runOnce(now)
			}
		}
	}
}

func (s *Scheduler) runOnce(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	rep, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		s.log.Infow("scheduled affiliate sync skipped, another run holds the lock")
	case err != nil:
		s.log.Errorw("scheduled affiliate sync failed", "error", err)
	default:
		s.log.Infow("scheduled affiliate sync finished", "run_id", rep.RunID, "duration", rep.Duration)
	}

	s.mu.Lock()
	s.lastRun = now
	s.nextRun = nextAt(now, s.cfg.HourUTC)
	s.mu.Unlock()
}

// nextAt returns the first hour:00 UTC strictly after now.
func nextAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
