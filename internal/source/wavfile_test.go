// internal/source/wavfile_test.go
package source

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavTestSampleRate    = 44100
	wavTestBitDepth      = 16
	wavTestTransformSize = 1024
)

// writeTestWAV writes a mono 16-bit sine tone of the given duration and
// returns its path.
func writeTestWAV(t *testing.T, freq float64, d time.Duration) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, wavTestSampleRate, wavTestBitDepth, 1, 1)
	frames := int(d.Seconds() * wavTestSampleRate)
	data := make([]int, frames)
	for i := range data {
		s := math.Sin(2 * math.Pi * freq * float64(i) / wavTestSampleRate)
		data[i] = int(s * 0.8 * float64(1<<(wavTestBitDepth-1)))
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 1, SampleRate: wavTestSampleRate},
		SourceBitDepth: wavTestBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}

func TestOpenWAVFile(t *testing.T) {
	path := writeTestWAV(t, 440, 500*time.Millisecond)

	wf, err := OpenWAVFile(path, wavTestTransformSize, 0)
	if err != nil {
		t.Fatalf("OpenWAVFile() error = %v", err)
	}

	if !wf.Ready() {
		t.Error("Ready() = false for a decoded file")
	}
	if wf.SampleRate() != wavTestSampleRate {
		t.Errorf("SampleRate() = %v, want %v", wf.SampleRate(), wavTestSampleRate)
	}
	if wf.TransformSize() != wavTestTransformSize {
		t.Errorf("TransformSize() = %d, want %d", wf.TransformSize(), wavTestTransformSize)
	}
	if wf.Duration() < 400*time.Millisecond || wf.Duration() > 600*time.Millisecond {
		t.Errorf("Duration() = %v, want ~500ms", wf.Duration())
	}
}

func TestWAVFile_FrequencyData(t *testing.T) {
	const toneHz = 440.0
	path := writeTestWAV(t, toneHz, 500*time.Millisecond)

	wf, err := OpenWAVFile(path, wavTestTransformSize, 0)
	if err != nil {
		t.Fatalf("OpenWAVFile() error = %v", err)
	}

	dst := make([]byte, wavTestTransformSize/2)
	n := wf.FrequencyData(dst)
	if n != wavTestTransformSize/2 {
		t.Fatalf("FrequencyData() = %d bins, want %d", n, wavTestTransformSize/2)
	}

	// The tone's bin must dominate a bin far away from it
	toneFrac := float64(toneHz) * wavTestTransformSize / wavTestSampleRate
	toneBin := int(toneFrac)
	if dst[toneBin] <= dst[toneBin+100] {
		t.Errorf("tone bin %d = %d not above distant bin %d = %d",
			toneBin, dst[toneBin], toneBin+100, dst[toneBin+100])
	}
}

func TestWAVFile_FinishesAfterPlayback(t *testing.T) {
	path := writeTestWAV(t, 440, 50*time.Millisecond)

	wf, err := OpenWAVFile(path, wavTestTransformSize, 0)
	if err != nil {
		t.Fatalf("OpenWAVFile() error = %v", err)
	}

	// Pin the clock: start, then jump well past the end of the file
	now := time.Now()
	wf.now = func() time.Time { return now }
	wf.FrequencyData(make([]byte, wavTestTransformSize/2))

	wf.now = func() time.Time { return now.Add(time.Second) }
	if n := wf.FrequencyData(make([]byte, wavTestTransformSize/2)); n != 0 {
		t.Errorf("FrequencyData() past EOF = %d, want 0", n)
	}
	if !wf.Finished() {
		t.Error("Finished() = false past EOF")
	}
}

func TestOpenWAVFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-wav.wav")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := OpenWAVFile(path, wavTestTransformSize, 0)
	if !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("OpenWAVFile() error = %v, want ErrInvalidWAV", err)
	}
}

func TestOpenWAVFile_Missing(t *testing.T) {
	_, err := OpenWAVFile(filepath.Join(t.TempDir(), "missing.wav"), wavTestTransformSize, 0)
	if err == nil {
		t.Error("OpenWAVFile() on missing file returned nil error")
	}
}
