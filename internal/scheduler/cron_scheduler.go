// Package scheduler runs the time-based jobs of the engine: rule reloads at
// schedule-window boundaries and alert-log retention.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

const (
	windowJobPrefix  = "window-"
	retentionJobName = "alert-retention"
	retentionTimeout = time.Minute
)

// Purger deletes alert records older than a cutoff
type Purger interface {
	DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error)
}

// JobInfo describes a scheduled job
type JobInfo struct {
	Name string
	Spec string
	Next time.Time
}

type entry struct {
	id   cron.EntryID
	spec string
}

// CronScheduler manages named cron jobs
type CronScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	clock  func() time.Time

	mu         sync.Mutex
	entries    map[string]entry
	boundaries []model.ClockTime
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewCronScheduler creates a scheduler evaluating specs in loc. Specs carry
// a seconds field.
func NewCronScheduler(loc *time.Location, logger *zap.Logger) *CronScheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.Named("cron")
	cronLogger := &cronLogger{logger: logger}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	return &CronScheduler{
		logger:  logger,
		cron:    cron.New(cronOptions...),
		clock:   time.Now,
		entries: make(map[string]entry),
	}
}

// Start starts the scheduler
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob schedules fn under name, replacing a job with the same name
func (s *CronScheduler) AddJob(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, spec, fn)
}

func (s *CronScheduler) addLocked(name, spec string, fn func()) error {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old.id)
	}
	s.entries[name] = entry{id: id, spec: spec}

	s.logger.Info("Added job",
		zap.String("name", name),
		zap.String("spec", spec),
		zap.Time("next_run", s.cron.Entry(id).Schedule.Next(s.clock())))
	return nil
}

// RemoveJob removes the job called name
func (s *CronScheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *CronScheduler) removeLocked(name string) error {
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)

	s.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// Jobs lists the scheduled jobs ordered by name
func (s *CronScheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	jobs := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		jobs = append(jobs, JobInfo{
			Name: name,
			Spec: e.spec,
			Next: s.cron.Entry(e.id).Schedule.Next(now),
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// ScheduleWindowReloads replaces the boundary jobs so that reload runs at
// every schedule-window boundary. Unchanged boundaries keep their jobs.
func (s *CronScheduler) ScheduleWindowReloads(boundaries []model.ClockTime, reload func()) error {
	next := slices.Clone(boundaries)
	slices.Sort(next)
	next = slices.Compact(next)

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Equal(next, s.boundaries) {
		return nil
	}

	for _, b := range s.boundaries {
		if err := s.removeLocked(windowJobName(b)); err != nil {
			s.logger.Warn("Failed to remove window job", zap.Error(err))
		}
	}
	s.boundaries = nil

	for _, b := range next {
		if !b.Valid() {
			s.logger.Warn("Skipping invalid window boundary", zap.Int("minutes", int(b)))
			continue
		}
		if err := s.addLocked(windowJobName(b), WindowSpec(b), reload); err != nil {
			return err
		}
		s.boundaries = append(s.boundaries, b)
	}
	return nil
}

// ScheduleRetention runs a purge on spec deleting alerts older than
// retention
func (s *CronScheduler) ScheduleRetention(spec string, retention time.Duration, purger Purger) error {
	if retention <= 0 {
		return fmt.Errorf("invalid retention %s", retention)
	}
	return s.AddJob(retentionJobName, spec, s.retentionJob(retention, purger))
}

func (s *CronScheduler) retentionJob(retention time.Duration, purger Purger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
		defer cancel()

		before := s.clock().Add(-retention)
		deleted, err := purger.DeleteAlertsBefore(ctx, before)
		if err != nil {
			s.logger.Error("Failed to purge alert log", zap.Error(err))
			return
		}
		s.logger.Info("Purged alert log",
			zap.Time("before", before),
			zap.Int64("deleted", deleted))
	}
}

// WindowSpec returns the daily cron spec firing at boundary
func WindowSpec(boundary model.ClockTime) string {
	return fmt.Sprintf("0 %d %d * * *", boundary.Minute(), boundary.Hour())
}

func windowJobName(boundary model.ClockTime) string {
	return windowJobPrefix + boundary.String()
}
