package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/bus"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	got chan scoring.RunRequest
	err error
}

func (s *stubRunner) RunBatch(_ context.Context, _ domain.Actor, req scoring.RunRequest) (*scoring.BatchReport, error) {
	s.got <- req
	return &scoring.BatchReport{Kind: req.Kind, Total: 2, Succeeded: 2}, s.err
}

func completions(t *testing.T, b domain.EventBus) <-chan CompletedMessage {
	t.Helper()
	out := make(chan CompletedMessage, 1)
	_, err := b.Subscribe(context.Background(), domain.TopicScoringCompleted, func(_ context.Context, msg *domain.Message) error {
		var done CompletedMessage
		if err := json.Unmarshal(msg.Payload, &done); err != nil {
			return err
		}
		out <- done
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &stubRunner{got: make(chan scoring.RunRequest, 1)})
		require.NoError(t, w.Start())
		assert.Equal(t, 1, w.GetStats().SubscriptionCount)
		assert.Equal(t, []string{domain.TopicScoringRequested}, w.GetStats().Topics)

		require.NoError(t, w.Stop())
		assert.Equal(t, 0, w.GetStats().SubscriptionCount)
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		runner := &stubRunner{got: make(chan scoring.RunRequest, 1)}
		w := NewWorker(eventBus, runner)
		require.NoError(t, w.Start())
		defer w.Stop()

		done := completions(t, eventBus)
		err := Request(context.Background(), eventBus, "req-1", domain.SystemActor, scoring.RunRequest{Kind: scoring.KindCompliance})
		require.NoError(t, err)

		select {
		case req := <-runner.got:
			assert.Equal(t, scoring.KindCompliance, req.Kind)
		case <-time.After(time.Second):
			t.Fatal("request not processed")
		}

		select {
		case msg := <-done:
			assert.Equal(t, "req-1", msg.RequestID)
			require.NotNil(t, msg.Report)
			assert.Equal(t, 2, msg.Report.Succeeded)
			assert.Empty(t, msg.Error)
		case <-time.After(time.Second):
			t.Fatal("completion not published")
		}
	})
}

func TestWorkerReportsBatchFailure(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	runner := &stubRunner{
		got: make(chan scoring.RunRequest, 1),
		err: eris.Wrap(domain.ErrBatchFailed, "too many failures"),
	}
	w := NewWorker(eventBus, runner)
	require.NoError(t, w.Start())
	defer w.Stop()

	done := completions(t, eventBus)
	require.NoError(t, Request(context.Background(), eventBus, "req-2", domain.SystemActor, scoring.RunRequest{Kind: scoring.KindRisk}))

	select {
	case msg := <-done:
		assert.Contains(t, msg.Error, "too many failures")
	case <-time.After(time.Second):
		t.Fatal("completion not published")
	}
}
