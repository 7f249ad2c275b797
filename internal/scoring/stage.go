package scoring

import (
	"context"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("prudence-scoring")

// Stage is one step of a per-entity scoring run. Stages run in order.
type Stage string

const (
	StageFetchInputs     Stage = "FETCH_INPUTS"
	StageComputeSubScore Stage = "COMPUTE_SUBSCORES"
	StageAggregate       Stage = "AGGREGATE"
	StageClassify        Stage = "CLASSIFY"
	StagePersist         Stage = "PERSIST"
	StageRecordBreakdown Stage = "RECORD_BREAKDOWN"
)

const retryBackoff = 50 * time.Millisecond

// runStage executes fn inside a span. Errors outside the taxonomy are
// treated as transient and retried up to attempts times.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, entityID string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "scoring."+string(stage))
	defer span.End()
	span.SetAttributes(
		attribute.String("scoring.stage", string(stage)),
		attribute.String("entity.id", entityID),
	)

	attempts := o.cfg.StageAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || domain.IsClassified(err) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			zap.L().Warn("scoring: stage failed, retrying",
				zap.String("stage", string(stage)),
				zap.String("entity_id", entityID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logStageError(stage, entityID, err)
	}
	return err
}

func logStageError(stage Stage, entityID string, err error) {
	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.String("entity_id", entityID),
		zap.Error(err),
	}
	switch {
	case domain.IsInvariantViolation(err):
		zap.L().Error("invariant violation", append(fields, zap.Bool("invariant", true))...)
	case domain.IsValidation(err), domain.IsNotFound(err):
		zap.L().Warn("scoring: stage rejected input", fields...)
	default:
		zap.L().Error("scoring: stage failed", fields...)
	}
}
