package scoring

import (
	"context"
	"time"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunRequest asks for a batch of entity runs.
type RunRequest struct {
	Kind Kind `json:"kind" validate:"required,oneof=risk compliance"`

	// EntityIDs limits the batch. Empty means every active entity.
	EntityIDs []string `json:"entity_ids,omitempty"`

	// Date anchors the run; zero means now.
	Date time.Time `json:"date,omitempty"`

	// Cadence is QUARTERLY, ANNUAL or (risk only) AD_HOC. Default QUARTERLY.
	Cadence string `json:"cadence,omitempty" validate:"omitempty,oneof=QUARTERLY ANNUAL AD_HOC"`
}

// BatchReport summarizes a batch.
type BatchReport struct {
	Kind      Kind          `json:"kind"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Degraded  int           `json:"degraded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Breaches  int           `json:"breaches"`
	Outcomes  []*Outcome    `json:"outcomes"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// ErrorRate is failed / total, or zero for an empty batch.
func (r *BatchReport) ErrorRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Total)
}

// RunBatch scores every requested entity in parallel. Per-entity failures
// are collected, not returned; the batch itself fails with ErrBatchFailed
// only when the error rate exceeds the configured threshold. The report
// is returned in both cases.
func (o *Orchestrator) RunBatch(ctx context.Context, actor domain.Actor, req RunRequest) (*BatchReport, error) {
	if err := authz.Require(actor, authz.ActionRun, authz.ResourceScoring); err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "scoring: unknown run kind %q", req.Kind)
	}
	if req.Kind == KindCompliance && req.Cadence == string(domain.PeriodAdHoc) {
		return nil, eris.Wrap(domain.ErrValidation, "scoring: compliance runs are QUARTERLY or ANNUAL")
	}
	if req.Date.IsZero() {
		req.Date = o.now()
	}
	if req.Cadence == "" {
		req.Cadence = string(domain.PeriodQuarterly)
	}

	ids := req.EntityIDs
	if len(ids) == 0 {
		entities, err := o.repo.ListActiveEntities(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
	}

	report := &BatchReport{
		Kind:      req.Kind,
		Total:     len(ids),
		Outcomes:  make([]*Outcome, len(ids)),
		StartedAt: o.now().UTC(),
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Outcomes[i] = failed(id, "", ctx.Err())
				return nil
			}
			report.Outcomes[i] = o.scoreOne(ctx, actor, req, id)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range report.Outcomes {
		switch out.Status {
		case StatusSuccess:
			report.Succeeded++
		case StatusDegraded:
			report.Degraded++
		case StatusSkipped:
			report.Skipped++
		case StatusFailed:
			report.Failed++
		}
		if out.Breach {
			report.Breaches++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	zap.L().Info("scoring: batch finished",
		zap.String("kind", string(req.Kind)),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("degraded", report.Degraded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("breaches", report.Breaches),
		zap.Duration("duration", report.Duration))

	if rate := report.ErrorRate(); rate > o.cfg.BatchErrorThreshold {
		return report, eris.Wrapf(domain.ErrBatchFailed, "scoring: %d of %d %s runs failed (%.0f%% > %.0f%%)",
			report.Failed, report.Total, req.Kind, rate*100, o.cfg.BatchErrorThreshold*100)
	}
	return report, nil
}

func (o *Orchestrator) scoreOne(ctx context.Context, actor domain.Actor, req RunRequest, entityID string) *Outcome {
	if req.Kind == KindCompliance {
		return o.ScoreCompliance(ctx, actor, ComplianceRun{
			EntityID: entityID,
			Date:     req.Date,
			Cadence:  domain.AnalysisPeriod(req.Cadence),
		})
	}
	return o.ScoreRisk(ctx, actor, RiskRun{
		EntityID: entityID,
		Date:     req.Date,
		Period:   domain.AssessmentPeriod(req.Cadence),
	})
}

// SweepBreaches re-evaluates the latest assessment and compliance index of
// every active entity against the current thresholds. Breaches that were
// already published are not published again. It returns the number of
// records in breach.
func (o *Orchestrator) SweepBreaches(ctx context.Context, actor domain.Actor) (int, error) {
	if err := authz.Require(actor, authz.ActionRun, authz.ResourceScoring); err != nil {
		return 0, err
	}

	composite, err := o.registry.ActiveOrDefault(ctx, domain.FormulaCompositeRisk)
	if err != nil {
		return 0, err
	}
	complianceFormula, err := o.registry.ActiveOrDefault(ctx, domain.FormulaComplianceScore)
	if err != nil {
		return 0, err
	}

	entities, err := o.repo.ListActiveEntities(ctx)
	if err != nil {
		return 0, err
	}

	found, published := 0, 0
	tally := func(inBreach, sent bool) {
		if inBreach {
			found++
		}
		if sent {
			published++
		}
	}

	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		latest, err := o.repo.ListRiskAssessments(ctx, e.ID, 1)
		if err != nil {
			zap.L().Warn("scoring: sweep assessment lookup", zap.String("entity_id", e.ID), zap.Error(err))
		} else if len(latest) > 0 {
			a := latest[0]
			tally(o.settleBreach(ctx, domain.BreachRisk, a.ID, o.detector.Risk(composite, a)))
		}

		idx, err := o.repo.LatestComplianceIndex(ctx, e.ID)
		switch {
		case err == nil:
			tally(o.settleBreach(ctx, domain.BreachCompliance, idx.ID, o.detector.Compliance(complianceFormula, idx)))
		case !domain.IsNotFound(err):
			zap.L().Warn("scoring: sweep compliance lookup", zap.String("entity_id", e.ID), zap.Error(err))
		}
	}

	zap.L().Info("scoring: breach sweep finished",
		zap.Int("entities", len(entities)),
		zap.Int("breaches", found),
		zap.Int("published", published))
	return found, nil
}
