// Package scheduler runs the periodic risk, compliance and breach jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job names a scheduled job.
type Job string

const (
	JobRisk       Job = "risk"
	JobCompliance Job = "compliance"
	JobBreach     Job = "breach"
)

// Runner is the scoring surface the scheduler drives.
type Runner interface {
	RunBatch(ctx context.Context, actor domain.Actor, req scoring.RunRequest) (*scoring.BatchReport, error)
	SweepBreaches(ctx context.Context, actor domain.Actor) (int, error)
}

// JobStatus describes a registered job.
type JobStatus struct {
	Job      Job       `json:"job"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler owns a cron instance. A job that is still running when its
// next tick arrives is skipped.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration

	mu        sync.Mutex
	entries   map[Job]cron.EntryID
	schedules map[Job]string
	started   bool
}

// New creates a scheduler. timeout bounds a single job run; zero means 30m.
func New(runner Runner, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := zapLogger{}
	return &Scheduler{
		runner:    runner,
		cron:      cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		timeout:   timeout,
		entries:   make(map[Job]cron.EntryID),
		schedules: make(map[Job]string),
	}
}

// Start registers the configured jobs and starts the cron loop. Jobs with an
// empty expression are not registered.
func (s *Scheduler) Start(cfg domain.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return eris.New("scheduler: already started")
	}
	if !cfg.Enabled {
		zap.L().Info("scheduler: disabled")
		return nil
	}

	jobs := []struct {
		job  Job
		spec string
	}{
		{JobRisk, cfg.RiskCron},
		{JobCompliance, cfg.ComplianceCron},
		{JobBreach, cfg.BreachCron},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		job := j.job
		id, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.RunNow(ctx, job); err != nil {
				zap.L().Error("scheduler: job failed", zap.String("job", string(job)), zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(domain.ErrValidation, "scheduler: %s schedule %q: %v", job, j.spec, err)
		}
		s.entries[job] = id
		s.schedules[job] = j.spec
	}

	s.cron.Start()
	s.started = true
	zap.L().Info("scheduler: started", zap.Int("jobs", len(s.entries)))
	return nil
}

// RunNow executes job synchronously as the system actor.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	start := time.Now()
	actor := domain.SystemActor

	var err error
	switch job {
	case JobRisk, JobCompliance:
		var report *scoring.BatchReport
		report, err = s.runner.RunBatch(ctx, actor, scoring.RunRequest{Kind: scoring.Kind(job)})
		if report != nil {
			zap.L().Info("scheduler: batch complete",
				zap.String("job", string(job)),
				zap.Int("total", report.Total),
				zap.Int("failed", report.Failed))
		}
	case JobBreach:
		_, err = s.runner.SweepBreaches(ctx, actor)
	default:
		return eris.Wrapf(domain.ErrValidation, "scheduler: unknown job %q", job)
	}

	zap.L().Debug("scheduler: job finished",
		zap.String("job", string(job)),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("ok", err == nil))
	return err
}

// Jobs lists registered jobs with their next and previous run times.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.entries))
	for _, job := range []Job{JobRisk, JobCompliance, JobBreach} {
		id, ok := s.entries[job]
		if !ok {
			continue
		}
		e := s.cron.Entry(id)
		out = append(out, JobStatus{Job: job, Schedule: s.schedules[job], Next: e.Next, Prev: e.Prev})
	}
	return out
}

// Stop halts the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		zap.L().Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scheduler: stop")
	}
}

// zapLogger adapts the global zap logger to cron.Logger.
type zapLogger struct{}

func (zapLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw("scheduler: "+msg, keysAndValues...)
}

func (zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.S().Errorw("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
