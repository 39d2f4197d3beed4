// internal/beat/policy.go
package beat

import "errors"

var (
	// ErrInvalidFloor indicates the threshold floor must be between 0 and 1
	ErrInvalidFloor = errors.New("threshold floor must be between 0.0 and 1.0")
	// ErrInvalidMultiplier indicates the threshold multiplier must be at least 1
	ErrInvalidMultiplier = errors.New("threshold multiplier must be >= 1.0")
	// ErrInvalidDominance indicates the dominance factor must exceed 1
	ErrInvalidDominance = errors.New("dominance factor must be > 1.0")
	// ErrInvalidWeight indicates the flux weight must be between 0 and 1
	ErrInvalidWeight = errors.New("flux weight must be between 0.0 and 1.0")
	// ErrInvalidOffset indicates threshold offsets must be non-negative
	ErrInvalidOffset = errors.New("threshold offsets must be non-negative")
	// ErrInvalidTolerance indicates the variance tolerance must be positive
	ErrInvalidTolerance = errors.New("variance tolerance must be positive")
	// ErrUnknownPolicy indicates an unrecognized policy name
	ErrUnknownPolicy = errors.New("unknown decision policy")
)

// Features are the per-tick scalar values derived from one magnitude snapshot.
// Energies are normalized band means; impulses are the positive frame-to-frame
// deltas of those energies; Flux is the half-wave rectified spectral flux.
// All values are in [0,1] by construction.
type Features struct {
	KickEnergy  float64
	BassEnergy  float64
	KickImpulse float64
	BassImpulse float64
	Flux        float64
}

// Policy is a pluggable decision strategy: a pure mapping from the current
// features and rolling statistics to a trigger decision. The engine owns
// warm-up, refractory timing and event queueing; policies own only the
// scalar choice and the threshold predicate.
type Policy interface {
	// Scalar selects the value appended to the rolling history.
	Scalar(f Features) float64
	// Trigger reports whether the current tick constitutes a beat, given the
	// scalar chosen above and the history's mean and variance.
	Trigger(f Features, scalar, mean, variance float64) bool
}

// ImpulsePolicy triggers on the kick band's impulse exceeding a
// floor-plus-multiplier adaptive threshold, with a dominance check against
// the neighboring bass band to reject sympathetic resonance.
type ImpulsePolicy struct {
	// Floor is the minimum threshold (from config: threshold_floor). It
	// dominates whenever the rolling mean is numerically negligible, so
	// near-silence never triggers.
	Floor float64
	// Multiplier scales the rolling mean (from config: threshold_multiplier)
	Multiplier float64
	// Dominance is how much the kick impulse must exceed the bass impulse
	// (from config: dominance)
	Dominance float64
}

// NewImpulsePolicy validates and returns an impulse+dominance policy.
func NewImpulsePolicy(floor, multiplier, dominance float64) (*ImpulsePolicy, error) {
	if floor < 0 || floor > 1 {
		return nil, ErrInvalidFloor
	}
	if multiplier < 1 {
		return nil, ErrInvalidMultiplier
	}
	if dominance <= 1 {
		return nil, ErrInvalidDominance
	}
	return &ImpulsePolicy{Floor: floor, Multiplier: multiplier, Dominance: dominance}, nil
}

// Scalar returns the kick band impulse.
func (p *ImpulsePolicy) Scalar(f Features) float64 {
	return f.KickImpulse
}

// Trigger applies the floor-plus-multiplier threshold and the dominance check.
func (p *ImpulsePolicy) Trigger(f Features, scalar, mean, _ float64) bool {
	threshold := mean * p.Multiplier
	if threshold < p.Floor {
		threshold = p.Floor
	}
	if scalar <= threshold {
		return false
	}
	return f.KickImpulse > f.BassImpulse*p.Dominance
}

// FluxPolicy triggers on a convex blend of spectral flux and kick energy
// exceeding a mean-relative threshold whose offset adapts to the rolling
// variance: when the window is statistically noisier than the tolerance the
// offset is lowered, making busy passages more sensitive.
type FluxPolicy struct {
	// Floor is the minimum threshold (from config: threshold_floor)
	Floor float64
	// Weight is the convex weight on flux: scalar = w*flux + (1-w)*energy
	// (from config: flux_weight)
	Weight float64
	// Offset is the base threshold offset above the rolling mean
	// (from config: adaptive_offset)
	Offset float64
	// NoisyOffset replaces Offset when variance exceeds Tolerance; must be
	// <= Offset (from config: adaptive_noisy_offset)
	NoisyOffset float64
	// Tolerance is the variance level separating calm from noisy windows
	// (from config: variance_tolerance). The magnitude is a tunable, not a
	// derived invariant.
	Tolerance float64
}

// NewFluxPolicy validates and returns an energy+flux variance-adaptive policy.
func NewFluxPolicy(floor, weight, offset, noisyOffset, tolerance float64) (*FluxPolicy, error) {
	if floor < 0 || floor > 1 {
		return nil, ErrInvalidFloor
	}
	if weight < 0 || weight > 1 {
		return nil, ErrInvalidWeight
	}
	if offset < 0 || noisyOffset < 0 || noisyOffset > offset {
		return nil, ErrInvalidOffset
	}
	if tolerance <= 0 {
		return nil, ErrInvalidTolerance
	}
	return &FluxPolicy{
		Floor:       floor,
		Weight:      weight,
		Offset:      offset,
		NoisyOffset: noisyOffset,
		Tolerance:   tolerance,
	}, nil
}

// Scalar returns the convex flux/energy blend.
func (p *FluxPolicy) Scalar(f Features) float64 {
	return p.Weight*f.Flux + (1-p.Weight)*f.KickEnergy
}

// Trigger applies the variance-adaptive mean-relative threshold.
func (p *FluxPolicy) Trigger(_ Features, scalar, mean, variance float64) bool {
	offset := p.Offset
	if variance > p.Tolerance {
		offset = p.NoisyOffset
	}
	threshold := mean * (1 + offset)
	if threshold < p.Floor {
		threshold = p.Floor
	}
	return scalar > threshold
}
