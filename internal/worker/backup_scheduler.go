package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"incomes/internal/backup"
	"incomes/internal/log"
)

// BackupRunner is the job the scheduler fires.
type BackupRunner interface {
	Run(ctx context.Context) backup.Outcome
}

// ScheduleConfig is a daily wall-clock trigger.
type ScheduleConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// DefaultScheduleConfig fires at 02:00 China Standard Time.
func DefaultScheduleConfig() ScheduleConfig {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	return ScheduleConfig{Hour: 2, Minute: 0, Location: loc}
}

// NextRun returns the first hour:minute in loc strictly after now.
func (c ScheduleConfig) NextRun(now time.Time) time.Time {
	local := now.In(c.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, c.Hour, c.Minute, 0, 0, c.Location)
	}
	return next
}

// BackupScheduler runs the backup job once a day until stopped.
type BackupScheduler struct {
	job    BackupRunner
	config ScheduleConfig
	logger *log.Logger
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewBackupScheduler(job BackupRunner, config ScheduleConfig, logger *log.Logger) *BackupScheduler {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &BackupScheduler{
		job:    job,
		config: config,
		logger: logger.WithComponent(log.ComponentScheduler),
		now:    time.Now,
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *BackupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Backup scheduler started",
		"at", fmt.Sprintf("%02d:%02d", s.config.Hour, s.config.Minute),
		"timezone", s.config.Location.String(),
		"next_run", s.config.NextRun(s.now()))

	return nil
}

// Stop halts the loop and waits for an in-flight backup to finish.
func (s *BackupScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.logger.InfoContext(ctx, "Backup scheduler stopped")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Backup scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the scheduler loop is active
func (s *BackupScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *BackupScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		wait := s.config.NextRun(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			out := s.job.Run(ctx)
			s.logger.InfoContext(ctx, "Scheduled backup finished",
				"skipped", out.Skipped,
				log.FieldBackupPath, out.Path,
				"removed", out.Removed,
				log.FieldSuccess, out.Err == nil)
		}
	}
}
