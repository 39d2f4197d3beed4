// internal/source/source.go
// Package source supplies magnitude snapshots to the beat engine: a live
// malgo capture pipeline and a WAV file playback source, both exposing the
// same Web-Audio-style byte frequency data.
package source

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceNotReady indicates the source never became ready within the
	// bounded wait; the session simply does not start.
	ErrSourceNotReady = errors.New("signal source not ready")
	// ErrInvalidPolls indicates the readiness poll count must be positive
	ErrInvalidPolls = errors.New("readiness poll count must be positive")
)

// Source supplies a monotonically-refreshing magnitude snapshot plus the
// geometry needed for Hz-to-bin mapping. FrequencyData fills the caller's
// buffer and returns the bin count, or 0 when no data is available this tick;
// the caller owns the buffer and the source never retains it.
type Source interface {
	// Ready reports whether the source can deliver frequency data.
	Ready() bool
	// FrequencyData copies the latest byte magnitude snapshot into dst and
	// returns the number of bins written (0 when nothing is available).
	FrequencyData(dst []byte) int
	// SampleRate returns the source's sample rate in Hz.
	SampleRate() float64
	// TransformSize returns the FFT size behind the snapshot.
	TransformSize() int
	// Close releases the source's resources.
	Close() error
}

// AwaitReady polls the source's readiness up to polls times, sleeping
// interval between checks. It returns ErrSourceNotReady once the polls are
// exhausted - an initialization failure, never a fatal one.
func AwaitReady(ctx context.Context, src Source, polls int, interval time.Duration) error {
	if polls <= 0 {
		return ErrInvalidPolls
	}
	for i := 0; i < polls; i++ {
		if src.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	if src.Ready() {
		return nil
	}
	return ErrSourceNotReady
}
