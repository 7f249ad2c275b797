// Package breach decides whether a computed score crosses its threshold.
// It only decides; delivering notifications belongs to bus subscribers.
package breach

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/prudence/internal/bus"
	"github.com/opensource-finance/prudence/internal/domain"
)

// Fallback thresholds when neither a formula nor configuration sets one.
const (
	DefaultRiskThreshold       = 80.0
	DefaultComplianceThreshold = 60.0
)

// Detector holds the fallback thresholds used when a formula carries none.
type Detector struct {
	// RiskThreshold: an overall risk score at or above it is a breach.
	RiskThreshold float64

	// ComplianceThreshold: a final compliance score below it is a breach.
	ComplianceThreshold float64

	now func() time.Time
}

// NewDetector creates a detector. Non-positive thresholds take the defaults.
func NewDetector(riskThreshold, complianceThreshold float64) *Detector {
	if riskThreshold <= 0 {
		riskThreshold = DefaultRiskThreshold
	}
	if complianceThreshold <= 0 {
		complianceThreshold = DefaultComplianceThreshold
	}
	return &Detector{
		RiskThreshold:       riskThreshold,
		ComplianceThreshold: complianceThreshold,
		now:                 time.Now,
	}
}

// Risk returns a breach event when a's overall score is at or above the
// threshold carried by f (thresholds["breach"]), or nil.
func (d *Detector) Risk(f *domain.Formula, a *domain.RiskAssessment) *domain.BreachEvent {
	if a == nil {
		return nil
	}
	threshold := f.Threshold("breach", d.RiskThreshold)
	if a.OverallRiskScore < threshold {
		return nil
	}
	return &domain.BreachEvent{
		Kind:        domain.BreachRisk,
		EntityID:    a.EntityID,
		ReferenceID: a.ID,
		Score:       a.OverallRiskScore,
		Threshold:   threshold,
		RiskTier:    a.RiskTier,
		DetectedAt:  d.now().UTC(),
	}
}

// Compliance returns a breach event when c's final score is below the
// threshold carried by f, or nil.
func (d *Detector) Compliance(f *domain.Formula, c *domain.ComplianceIndex) *domain.BreachEvent {
	if c == nil {
		return nil
	}
	threshold := f.Threshold("breach", d.ComplianceThreshold)
	if c.FinalComplianceScore >= threshold {
		return nil
	}
	return &domain.BreachEvent{
		Kind:        domain.BreachCompliance,
		EntityID:    c.EntityID,
		ReferenceID: c.ID,
		Score:       c.FinalComplianceScore,
		Threshold:   threshold,
		DetectedAt:  d.now().UTC(),
	}
}

// Topic returns the bus topic for an event kind.
func Topic(kind domain.BreachKind) string {
	if kind == domain.BreachCompliance {
		return domain.TopicComplianceBreach
	}
	return domain.TopicRiskBreach
}

// Publish sends ev on its topic.
func Publish(ctx context.Context, b domain.EventBus, ev *domain.BreachEvent) error {
	return bus.PublishJSON(ctx, b, Topic(ev.Kind), ev)
}

// Reason renders ev for logs and operator output.
func Reason(ev *domain.BreachEvent) string {
	if ev.Kind == domain.BreachCompliance {
		return fmt.Sprintf("compliance score %.2f below %.2f", ev.Score, ev.Threshold)
	}
	return fmt.Sprintf("risk score %.2f at or above %.2f (%s)", ev.Score, ev.Threshold, ev.RiskTier)
}
