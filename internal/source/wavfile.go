// internal/source/wavfile.go
package source

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV indicates the file is not a decodable WAV
	ErrInvalidWAV = errors.New("not a valid WAV file")
	// ErrEmptyWAV indicates the file decoded to no samples
	ErrEmptyWAV = errors.New("WAV file contains no samples")
)

// WAVFile is a file-backed Source: it decodes a whole WAV file up front and
// replays it against the wall clock, analyzing the transform window at the
// current playback position on every FrequencyData call. It makes the
// detector runnable without an audio device.
type WAVFile struct {
	samples    []float64 // mono, normalized to -1..1
	sampleRate float64
	size       int
	pipe       *pipeline
	bands      []byte

	started bool
	start   time.Time
	now     func() time.Time
}

// OpenWAVFile decodes path into a playback source.
func OpenWAVFile(path string, transformSize int, smoothing float64) (*WAVFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, ErrEmptyWAV
	}

	// Mix interleaved channels down to mono and normalize by bit depth.
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := float64(int64(1) << (dec.BitDepth - 1))
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch]) / scale
		}
		samples[i] = sum / float64(channels)
	}

	return &WAVFile{
		samples:    samples,
		sampleRate: float64(buf.Format.SampleRate),
		size:       transformSize,
		pipe:       newPipeline(transformSize, smoothing),
		bands:      make([]byte, transformSize/2),
		now:        time.Now,
	}, nil
}

// Ready reports whether the file decoded to at least one transform window.
func (w *WAVFile) Ready() bool {
	return len(w.samples) >= w.size
}

// FrequencyData analyzes the window at the current playback position. The
// clock starts on the first call. Returns 0 once playback has run past the
// end of the file.
func (w *WAVFile) FrequencyData(dst []byte) int {
	if !w.Ready() {
		return 0
	}
	if !w.started {
		w.started = true
		w.start = w.now()
	}

	pos := int(w.now().Sub(w.start).Seconds() * w.sampleRate)
	if pos < 0 || pos+w.size > len(w.samples) {
		return 0
	}

	w.pipe.process(w.samples[pos : pos+w.size])
	w.pipe.bytes(w.bands)

	n := len(w.bands)
	if len(dst) < n {
		n = len(dst)
	}
	copy(dst[:n], w.bands[:n])
	return n
}

// SampleRate returns the file's sample rate in Hz.
func (w *WAVFile) SampleRate() float64 {
	return w.sampleRate
}

// TransformSize returns the FFT size behind the spectrum.
func (w *WAVFile) TransformSize() int {
	return w.size
}

// Finished reports whether playback has run past the end of the file.
func (w *WAVFile) Finished() bool {
	if !w.started {
		return false
	}
	pos := int(w.now().Sub(w.start).Seconds() * w.sampleRate)
	return pos+w.size > len(w.samples)
}

// Duration returns the decoded length of the file.
func (w *WAVFile) Duration() time.Duration {
	return time.Duration(float64(len(w.samples)) / w.sampleRate * float64(time.Second))
}

// Close releases nothing: the file handle is closed after decoding.
func (w *WAVFile) Close() error {
	return nil
}
