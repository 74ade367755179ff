package service

import (
	"math"
	"testing"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

func TestLogitSigmoidRoundTrip(t *testing.T) {
	for _, p := range []float64{0.05, 0.3, 0.5, 0.7, 0.95} {
		got := Sigmoid(Logit(p))
		if math.Abs(got-p) > 1e-9 {
			t.Errorf("Sigmoid(Logit(%v)) = %v", p, got)
		}
	}
}

func TestApplyLogOddsDelta(t *testing.T) {
	up := ApplyLogOddsDelta(0.5, DefaultReinforcementLogOdds)
	if up <= 0.5 {
		t.Errorf("reinforcement should raise confidence, got %v", up)
	}
	down := ApplyLogOddsDelta(0.5, -DefaultContradictionLogOdds)
	if down >= 0.5 {
		t.Errorf("contradiction should lower confidence, got %v", down)
	}
	if got := ApplyLogOddsDelta(0.99, 10); got != DefaultMaxConfidence {
		t.Errorf("expected clamp at max, got %v", got)
	}
	if got := ApplyLogOddsDelta(0.01, -10); got != DefaultMinConfidence {
		t.Errorf("expected clamp at min, got %v", got)
	}
}

func TestLinearDecay(t *testing.T) {
	tests := []struct {
		name  string
		conf  float64
		rate  float64
		hours float64
		want  float64
	}{
		{"no time", 0.8, 0.01, 0, 0.8},
		{"negative time", 0.8, 0.01, -5, 0.8},
		{"ten hours", 0.8, 0.01, 10, 0.7},
		{"floors at zero", 0.1, 0.02, 100, 0},
		{"zero stays zero", 0, 0.02, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LinearDecay(tt.conf, tt.rate, tt.hours)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LinearDecay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecayRateOrdering(t *testing.T) {
	r := DefaultDecayRates()
	if !(r[domain.SourceToldByHuman] < r[domain.SourceObservation] &&
		r[domain.SourceObservation] < r[domain.SourceInference] &&
		r[domain.SourceInference] < r[domain.SourcePrior]) {
		t.Errorf("unexpected rate ordering: %v", r)
	}
}
