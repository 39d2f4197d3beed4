// internal/source/pipeline.go
package source

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Byte spectrum scaling. Magnitudes are mapped onto a -60dB..0dB range and
// quantized to 0-255, matching the Web Audio AnalyserNode byte output the
// detector consumes.
const (
	dbRange    = 60.0
	magEpsilon = 1e-10
)

// pipeline converts fixed-size windows of mono samples into smoothed byte
// magnitude spectra. Scratch buffers are reused so the per-frame cost is
// allocation-free.
type pipeline struct {
	size      int
	smoothing float64

	fft      *fourier.FFT
	window   []float64 // Hanning
	windowed []float64
	coeffs   []complex128
	smoothed []float64 // per-bin smoothed 0-255 value, size/2 bins
}

// newPipeline creates a spectrum pipeline for the given transform size.
// Size must be a positive power of two; smoothing is the temporal smoothing
// factor in [0,1) where 0 disables smoothing.
func newPipeline(size int, smoothing float64) *pipeline {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return &pipeline{
		size:      size,
		smoothing: smoothing,
		fft:       fourier.NewFFT(size),
		window:    window,
		windowed:  make([]float64, size),
		// Coefficients requires dst length exactly Len()/2+1
		coeffs:   make([]complex128, size/2+1),
		smoothed: make([]float64, size/2),
	}
}

// bins returns the number of output bins (half the transform size).
func (p *pipeline) bins() int {
	return p.size / 2
}

// process windows the samples, computes the FFT, and folds the magnitude of
// each bin into the smoothed byte-scaled spectrum. samples must hold at
// least size values; only the first size are used.
func (p *pipeline) process(samples []float64) {
	for i := 0; i < p.size; i++ {
		p.windowed[i] = samples[i] * p.window[i]
	}

	p.fft.Coefficients(p.coeffs, p.windowed)

	for bin := 0; bin < p.size/2; bin++ {
		re := real(p.coeffs[bin])
		im := imag(p.coeffs[bin])
		mag := math.Sqrt(re*re + im*im)

		db := 20 * math.Log10(mag/float64(p.size)+magEpsilon)
		scaled := (db + dbRange) / dbRange * 255
		if scaled < 0 {
			scaled = 0
		}
		if scaled > 255 {
			scaled = 255
		}

		p.smoothed[bin] = p.smoothing*p.smoothed[bin] + (1-p.smoothing)*scaled
	}
}

// bytes quantizes the smoothed spectrum into dst and returns the bin count.
// dst shorter than the bin count truncates the copy.
func (p *pipeline) bytes(dst []byte) int {
	n := len(p.smoothed)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = byte(p.smoothed[i])
	}
	return n
}
