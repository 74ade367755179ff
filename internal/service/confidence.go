package service

import (
	"math"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

const (
	DefaultReinforcementLogOdds = 0.3
	DefaultContradictionLogOdds = 0.5
	DefaultMaxConfidence        = 0.99
	DefaultMinConfidence        = 0.01
)

// Linear decay rates per hour of elapsed time, slowest first.
const (
	ToldByHumanDecayRate = 0.001
	ObservationDecayRate = 0.005
	InferenceDecayRate   = 0.01
	PriorDecayRate       = 0.02
)

// DefaultDecayRates maps each belief source to its hourly decay rate.
func DefaultDecayRates() map[domain.BeliefSource]float64 {
	return map[domain.BeliefSource]float64{
		domain.SourceToldByHuman: ToldByHumanDecayRate,
		domain.SourceObservation: ObservationDecayRate,
		domain.SourceInference:   InferenceDecayRate,
		domain.SourcePrior:       PriorDecayRate,
	}
}

func Logit(p float64) float64 {
	p = clampConfidence(p)
	return math.Log(p / (1 - p))
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func ApplyLogOddsDelta(confidence float64, logOddsDelta float64) float64 {
	logOdds := Logit(confidence)
	return clampConfidence(Sigmoid(logOdds + logOddsDelta))
}

func clampConfidence(p float64) float64 {
	if p < DefaultMinConfidence {
		return DefaultMinConfidence
	}
	if p > DefaultMaxConfidence {
		return DefaultMaxConfidence
	}
	return p
}

func clampUnit(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// LinearDecay lowers confidence by rate per hour and floors at zero.
func LinearDecay(confidence, ratePerHour, hours float64) float64 {
	if hours <= 0 || ratePerHour <= 0 {
		return confidence
	}
	decayed := confidence - ratePerHour*hours
	if decayed < 0 {
		return 0
	}
	return decayed
}
