package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	batches []scoring.RunRequest
	actors  []domain.Actor
	sweeps  int
}

func (f *fakeRunner) RunBatch(_ context.Context, actor domain.Actor, req scoring.RunRequest) (*scoring.BatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, req)
	f.actors = append(f.actors, actor)
	return &scoring.BatchReport{Kind: req.Kind, Total: 1, Succeeded: 1}, nil
}

func (f *fakeRunner) SweepBreaches(context.Context, domain.Actor) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeRunner) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches), f.sweeps
}

func TestRunNow(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, time.Second)
	ctx := context.Background()

	require.NoError(t, s.RunNow(ctx, JobRisk))
	require.NoError(t, s.RunNow(ctx, JobCompliance))
	require.NoError(t, s.RunNow(ctx, JobBreach))

	require.Len(t, runner.batches, 2)
	assert.Equal(t, scoring.KindRisk, runner.batches[0].Kind)
	assert.Equal(t, scoring.KindCompliance, runner.batches[1].Kind)
	assert.Equal(t, domain.SystemActor, runner.actors[0])
	assert.Equal(t, 1, runner.sweeps)

	assert.True(t, domain.IsValidation(s.RunNow(ctx, "weekly")))
}

func TestStartRegistersJobs(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, time.Second)

	require.NoError(t, s.Start(domain.ScheduleConfig{
		Enabled:    true,
		RiskCron:   "@every 50ms",
		BreachCron: "@hourly",
	}))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, JobRisk, jobs[0].Job)
	assert.Equal(t, JobBreach, jobs[1].Job)

	assert.Eventually(t, func() bool {
		batches, _ := runner.counts()
		return batches > 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Error(t, s.Start(domain.ScheduleConfig{Enabled: true}))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeRunner{}, 0)
	err := s.Start(domain.ScheduleConfig{Enabled: true, RiskCron: "every tuesday"})
	assert.True(t, domain.IsValidation(err))
}

func TestDisabledSchedulerDoesNothing(t *testing.T) {
	s := New(&fakeRunner{}, 0)
	require.NoError(t, s.Start(domain.ScheduleConfig{Enabled: false, RiskCron: "@hourly"}))
	assert.Empty(t, s.Jobs())
	assert.NoError(t, s.Stop(context.Background()))
}
