// Package worker runs scoring batches requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensource-finance/prudence/internal/bus"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Runner executes a scoring batch.
type Runner interface {
	RunBatch(ctx context.Context, actor domain.Actor, req scoring.RunRequest) (*scoring.BatchReport, error)
}

// RunMessage is the payload of a scoring request.
type RunMessage struct {
	RequestID string             `json:"request_id"`
	Actor     domain.Actor       `json:"actor"`
	Request   scoring.RunRequest `json:"request"`
}

// CompletedMessage is published when a requested batch finishes.
type CompletedMessage struct {
	RequestID string               `json:"request_id"`
	Report    *scoring.BatchReport `json:"report,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Worker consumes scoring requests from the bus.
type Worker struct {
	bus    domain.EventBus
	runner Runner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker.
func NewWorker(b domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to scoring requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScoringRequested, w.handleMessage)
	if err != nil {
		return eris.Wrap(err, "worker: subscribe")
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	zap.L().Info("worker: started", zap.String("topic", domain.TopicScoringRequested))
	return nil
}

// Request publishes a scoring request for a worker to pick up.
func Request(ctx context.Context, b domain.EventBus, requestID string, actor domain.Actor, req scoring.RunRequest) error {
	return bus.PublishJSON(ctx, b, domain.TopicScoringRequested, RunMessage{
		RequestID: requestID,
		Actor:     actor,
		Request:   req,
	})
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var run RunMessage
	if err := json.Unmarshal(msg.Payload, &run); err != nil {
		zap.L().Error("worker: undecodable request", zap.String("message_id", msg.ID), zap.Error(err))
		return eris.Wrap(domain.ErrValidation, "worker: undecodable request")
	}
	if run.RequestID == "" {
		run.RequestID = msg.ID
	}

	report, err := w.runner.RunBatch(ctx, run.Actor, run.Request)

	done := CompletedMessage{RequestID: run.RequestID, Report: report}
	if err != nil {
		done.Error = err.Error()
		zap.L().Warn("worker: batch finished with error",
			zap.String("request_id", run.RequestID), zap.Error(err))
	}

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicScoringCompleted, done); err != nil {
		zap.L().Error("worker: publish completion",
			zap.String("request_id", run.RequestID), zap.Error(err))
	}

	zap.L().Info("worker: request processed",
		zap.String("request_id", run.RequestID),
		zap.String("kind", string(run.Request.Kind)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Stop unsubscribes and waits for in-flight requests.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			zap.L().Error("worker: unsubscribe", zap.String("topic", sub.Topic()), zap.Error(err))
		}
	}

	w.wg.Wait()
	zap.L().Info("worker: stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
