package domain

import (
	"fmt"
	"math"
)

// MeasureState is the three-way state of a financial input.
type MeasureState int

const (
	MeasurePresent MeasureState = iota
	MeasureMissing
	MeasureInvalid
)

func (s MeasureState) String() string {
	switch s {
	case MeasurePresent:
		return "present"
	case MeasureMissing:
		return "missing"
	case MeasureInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Measure carries a value that may be Present, Missing or Invalid.
// Consumers decide how to handle the non-present states; nothing is
// defaulted to zero.
type Measure struct {
	State  MeasureState
	Value  float64
	Reason string
}

// Present returns a present measure. Non-finite values become Invalid.
func Present(v float64) Measure {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Invalid(fmt.Sprintf("non-finite value %v", v))
	}
	return Measure{State: MeasurePresent, Value: v}
}

func Missing(reason string) Measure {
	return Measure{State: MeasureMissing, Reason: reason}
}

func Invalid(reason string) Measure {
	return Measure{State: MeasureInvalid, Reason: reason}
}

// FromNullable maps a nullable column to a measure.
func FromNullable(name string, v *float64) Measure {
	if v == nil {
		return Missing(name + " not reported")
	}
	return Present(*v)
}

func (m Measure) IsPresent() bool { return m.State == MeasurePresent }

// Ptr returns the value as a pointer, nil unless present.
func (m Measure) Ptr() *float64 {
	if m.State != MeasurePresent {
		return nil
	}
	v := m.Value
	return &v
}

func (m Measure) String() string {
	if m.State == MeasurePresent {
		return fmt.Sprintf("%g", m.Value)
	}
	if m.Reason == "" {
		return m.State.String()
	}
	return m.State.String() + "(" + m.Reason + ")"
}
