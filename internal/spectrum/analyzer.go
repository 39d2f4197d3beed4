// internal/spectrum/analyzer.go
// Package spectrum converts frequency-domain magnitude snapshots into
// normalized scalar band features.
package spectrum

import (
	"errors"
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidTransformSize indicates transform size must be a positive power of 2
	ErrInvalidTransformSize = errors.New("transform size must be a positive power of 2")
	// ErrInvalidBand indicates a band's frequency range is inverted or negative
	ErrInvalidBand = errors.New("band range must satisfy 0 <= min < max")
)

// Band is a named contiguous frequency range mapped onto spectrum bin indices.
type Band struct {
	// Name identifies the band in config and diagnostics (e.g. "kick", "bass")
	Name string
	// MinHz is the inclusive lower edge of the band in Hz
	MinHz float64
	// MaxHz is the exclusive upper edge of the band in Hz
	MaxHz float64
}

// Validate checks the band's frequency range.
func (b Band) Validate() error {
	if b.MinHz < 0 || b.MinHz >= b.MaxHz {
		return ErrInvalidBand
	}
	return nil
}

// Config holds the Hz-to-bin mapping parameters.
// All values should come from the application config file.
type Config struct {
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate float64
	// TransformSize is the FFT size that produced the snapshot (from config: transform_size)
	TransformSize int
}

// Analyzer computes band energy and spectral flux features from byte magnitude
// snapshots. Band energy is stateless; flux keeps one previous frame so the
// look-back is exactly one tick. The analyzer never retains the caller's
// snapshot slice - the previous frame is copied into an analyzer-owned buffer.
type Analyzer struct {
	config   Config
	binWidth float64 // Hz per bin: sampleRate / transformSize

	prev   []byte
	seeded bool
}

// NewAnalyzer creates an analyzer for the given spectrum geometry.
// Returns an error if the configuration is invalid.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.TransformSize <= 0 || cfg.TransformSize&(cfg.TransformSize-1) != 0 {
		return nil, ErrInvalidTransformSize
	}

	return &Analyzer{
		config:   cfg,
		binWidth: cfg.SampleRate / float64(cfg.TransformSize),
	}, nil
}

// BinForHz maps a frequency in Hz to its snapshot bin index.
func (a *Analyzer) BinForHz(hz float64) int {
	if hz <= 0 {
		return 0
	}
	return int(hz / a.binWidth)
}

// binRange resolves a band to a half-open bin range [lo, hi) clamped to the
// snapshot length. The returned range is valid only when lo < hi.
func (a *Analyzer) binRange(band Band, snapshotLen int) (lo, hi int) {
	lo = a.BinForHz(band.MinHz)
	hi = a.BinForHz(band.MaxHz)
	if hi > snapshotLen-1 {
		hi = snapshotLen - 1
	}
	return lo, hi
}

// BandEnergy returns the mean normalized magnitude over the band's bins,
// in [0,1]. A degenerate resolved range (minBin >= maxBin) or an absent
// snapshot yields exactly 0.
func (a *Analyzer) BandEnergy(snapshot []byte, band Band) float64 {
	if len(snapshot) == 0 {
		return 0
	}

	lo, hi := a.binRange(band, len(snapshot))
	if lo >= hi {
		return 0
	}

	var sum float64
	for i := lo; i < hi; i++ {
		sum += float64(snapshot[i])
	}

	// Maximum possible sum is binCount*255, so the result is in [0,1].
	return sum / (float64(hi-lo) * 255.0)
}

// Flux returns the half-wave rectified spectral flux over bins up to maxHz,
// normalized to [0,1]. Only positive frame-to-frame magnitude increases
// contribute; a sustained tone therefore reads near zero while a percussive
// attack produces a sharp value.
//
// The first call has no baseline: it seeds the previous-frame buffer and
// returns exactly 0. Every call ends by overwriting the previous frame with
// the current one.
func (a *Analyzer) Flux(snapshot []byte, maxHz float64) float64 {
	if len(snapshot) == 0 {
		return 0
	}

	hi := a.BinForHz(maxHz)
	if hi > len(snapshot)-1 {
		hi = len(snapshot) - 1
	}

	var flux float64
	if a.seeded && len(a.prev) == len(snapshot) && hi > 0 {
		var sum float64
		for i := 0; i < hi; i++ {
			diff := float64(snapshot[i]) - float64(a.prev[i])
			if diff > 0 {
				sum += diff
			}
		}
		flux = sum / (float64(hi) * 255.0)
	}

	a.remember(snapshot)
	return flux
}

// remember copies the snapshot into the analyzer-owned previous-frame buffer.
func (a *Analyzer) remember(snapshot []byte) {
	if cap(a.prev) < len(snapshot) {
		a.prev = make([]byte, len(snapshot))
	}
	a.prev = a.prev[:len(snapshot)]
	copy(a.prev, snapshot)
	a.seeded = true
}

// Reset discards the previous-frame buffer. The next Flux call re-seeds.
func (a *Analyzer) Reset() {
	a.prev = a.prev[:0]
	a.seeded = false
}

// Config returns the current configuration (for testing and inspection)
func (a *Analyzer) Config() Config {
	return a.config
}

// BinWidth returns the Hz width of one spectrum bin.
func (a *Analyzer) BinWidth() float64 {
	return a.binWidth
}
