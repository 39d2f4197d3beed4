// internal/beat/engine.go
// Package beat detects musical onsets in a streaming magnitude spectrum and
// releases them to a callback after a fixed lookahead.
package beat

import (
	"errors"
	"time"

	"github.com/dmahler/beatdetect/internal/spectrum"
)

var (
	// ErrAnalyzerRequired indicates a spectrum analyzer is required
	ErrAnalyzerRequired = errors.New("spectrum analyzer is required")
	// ErrPolicyRequired indicates a decision policy is required
	ErrPolicyRequired = errors.New("decision policy is required")
	// ErrInvalidHistorySize indicates history size must be positive
	ErrInvalidHistorySize = errors.New("history size must be positive")
	// ErrInvalidLookahead indicates lookahead must be non-negative
	ErrInvalidLookahead = errors.New("lookahead must be non-negative")
	// ErrInvalidRefractory indicates the refractory interval must be positive
	ErrInvalidRefractory = errors.New("refractory interval must be positive")
)

// State is the engine's lifecycle phase.
type State int

const (
	// StateWarmingUp means the rolling history has not reached capacity;
	// no decision is made and no beat can fire.
	StateWarmingUp State = iota
	// StateActive is steady-state detection.
	StateActive
	// StateStopped is terminal; a fresh engine is required to resume.
	StateStopped
)

// String returns the state name for diagnostics.
func (s State) String() string {
	switch s {
	case StateWarmingUp:
		return "warming-up"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callback is invoked once per released beat event. It runs synchronously on
// the scheduler's tick and must be fast and non-blocking.
type Callback func()

// Config holds the engine's tunables.
// All values should come from the application config file.
type Config struct {
	// KickBand is the discriminating low band (from config: kick_min_hz/kick_max_hz)
	KickBand spectrum.Band
	// BassBand is the competing neighbor band used by the dominance check
	// (from config: bass_min_hz/bass_max_hz)
	BassBand spectrum.Band
	// FluxMaxHz bounds the spectral flux computation (from config: flux_max_hz)
	FluxMaxHz float64
	// HistorySize is the rolling window capacity; it is also the warm-up
	// length in ticks (from config: history_size)
	HistorySize int
	// Lookahead delays event release past detection so callers can align
	// effects to the event's target time (from config: lookahead_ms)
	Lookahead time.Duration
	// Refractory is the hard minimum interval between detections
	// (from config: refractory_ms)
	Refractory time.Duration
}

// Engine runs the per-tick beat decision state machine: it derives features
// via the spectrum analyzer, maintains the rolling history and adaptive
// threshold inputs, applies the decision policy under warm-up and refractory
// constraints, and holds triggered beats in a FIFO until their lookahead
// expires.
//
// The engine is single-threaded by contract: the external scheduler invokes
// Tick and Drain once per tick with monotonically non-decreasing now, and
// never re-enters them concurrently. There is no locking because there is
// exactly one writer and one reader of the state, and they are the same
// sequential tick handler.
type Engine struct {
	config   Config
	analyzer *spectrum.Analyzer
	policy   Policy

	history  *History
	prevKick float64
	prevBass float64
	lastBeat time.Time

	// queue holds release timestamps, earliest first. Insertion order is
	// monotonic with detection time because now is monotonic and the
	// refractory check prevents out-of-order insertion.
	queue []time.Time

	state State
}

// NewEngine creates a beat engine with the given configuration.
func NewEngine(cfg Config, analyzer *spectrum.Analyzer, policy Policy) (*Engine, error) {
	if analyzer == nil {
		return nil, ErrAnalyzerRequired
	}
	if policy == nil {
		return nil, ErrPolicyRequired
	}
	if cfg.HistorySize <= 0 {
		return nil, ErrInvalidHistorySize
	}
	if cfg.Lookahead < 0 {
		return nil, ErrInvalidLookahead
	}
	if cfg.Refractory <= 0 {
		return nil, ErrInvalidRefractory
	}
	if err := cfg.KickBand.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.BassBand.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		config:   cfg,
		analyzer: analyzer,
		policy:   policy,
		history:  NewHistory(cfg.HistorySize),
		state:    StateWarmingUp,
	}, nil
}

// Tick runs one detection step against the current magnitude snapshot.
// An absent snapshot is a transient read gap: the tick contributes nothing
// and the next scheduled tick simply retries. No beat is emitted here; a
// positive decision only enqueues a future release timestamp.
func (e *Engine) Tick(now time.Time, snapshot []byte) {
	if e.state == StateStopped || len(snapshot) == 0 {
		return
	}

	f := Features{
		KickEnergy: e.analyzer.BandEnergy(snapshot, e.config.KickBand),
		BassEnergy: e.analyzer.BandEnergy(snapshot, e.config.BassBand),
		Flux:       e.analyzer.Flux(snapshot, e.config.FluxMaxHz),
	}
	f.KickImpulse = positiveDelta(f.KickEnergy, e.prevKick)
	f.BassImpulse = positiveDelta(f.BassEnergy, e.prevBass)
	e.prevKick = f.KickEnergy
	e.prevBass = f.BassEnergy

	scalar := e.policy.Scalar(f)
	e.history.Append(scalar)
	if !e.history.Full() {
		// Warm-up suppression window: no decision until the history fills.
		return
	}
	e.state = StateActive

	if !e.policy.Trigger(f, scalar, e.history.Mean(), e.history.Variance()) {
		return
	}
	if !e.lastBeat.IsZero() && now.Sub(e.lastBeat) < e.config.Refractory {
		return
	}

	e.lastBeat = now
	e.queue = append(e.queue, now.Add(e.config.Lookahead))
}

// Drain releases every queued beat whose target time has arrived, invoking
// the callback once per event in FIFO order. It runs independently of Tick
// so a gap tick still releases due events.
func (e *Engine) Drain(now time.Time, cb Callback) {
	if e.state == StateStopped {
		return
	}
	for len(e.queue) > 0 && !e.queue[0].After(now) {
		e.queue = e.queue[1:]
		if cb != nil {
			cb()
		}
	}
}

// Stop halts the engine permanently and discards queued events. Queued beats
// are never flushed late; detection resumes only via a fresh engine.
func (e *Engine) Stop() {
	e.state = StateStopped
	e.queue = nil
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	return e.state
}

// Pending returns the number of queued, not-yet-released beats.
func (e *Engine) Pending() int {
	return len(e.queue)
}

// LastBeat returns the detection time of the most recent beat, or the zero
// time if none has fired this session.
func (e *Engine) LastBeat() time.Time {
	return e.lastBeat
}

// Config returns the current configuration (for testing and inspection)
func (e *Engine) Config() Config {
	return e.config
}

// positiveDelta returns cur-prev clamped at zero: the impulse.
func positiveDelta(cur, prev float64) float64 {
	d := cur - prev
	if d < 0 {
		return 0
	}
	return d
}
