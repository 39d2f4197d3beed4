// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmahler/beatdetect/internal/beat"
	"github.com/dmahler/beatdetect/internal/config"
	"github.com/dmahler/beatdetect/internal/session"
	"github.com/dmahler/beatdetect/internal/source"
	"github.com/dmahler/beatdetect/internal/spectrum"
	"github.com/spf13/cobra"
)

// run wires config -> source -> analyzer -> engine -> session and blocks
// until interrupted or, for file input, until playback ends.
func run(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, wavFile, err := openSource(ctx, settings)
	if err != nil {
		return err
	}

	engine, err := buildEngine(settings)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		TickInterval:      time.Duration(settings.TickMs) * time.Millisecond,
		ReadyPolls:        settings.ReadyPolls,
		ReadyPollInterval: time.Duration(settings.ReadyPollMs) * time.Millisecond,
		OwnsSource:        true,
	}, src, engine)
	if err != nil {
		return err
	}
	defer sess.Cleanup()

	if err := sess.Init(ctx); err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	start := time.Now()
	sess.SetSink(func() {
		fmt.Printf("%8.3fs  beat\n", time.Since(start).Seconds())
	})

	if settings.Debug {
		fmt.Fprintf(os.Stderr, "policy=%s history=%d lookahead=%dms refractory=%dms\n",
			settings.Policy, settings.HistorySize, settings.LookaheadMs, settings.RefractoryMs)
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}

	wait(ctx, wavFile)
	sess.Stop()
	return nil
}

// openSource returns the configured signal source: a WAV playback source when
// input_file is set, otherwise a live capture device. The second return value
// is non-nil only for file input, so the caller can end on playback finish.
func openSource(ctx context.Context, settings *config.Settings) (source.Source, *source.WAVFile, error) {
	if settings.InputFile != "" {
		wf, err := source.OpenWAVFile(settings.InputFile, settings.TransformSize, settings.Smoothing)
		if err != nil {
			return nil, nil, err
		}
		return wf, wf, nil
	}

	capture := source.NewCapture(source.CaptureConfig{
		DeviceIndex:   settings.DeviceIndex,
		SampleRate:    uint32(settings.SampleRate),
		Channels:      uint32(settings.Channels),
		TransformSize: settings.TransformSize,
		Smoothing:     settings.Smoothing,
	})
	if err := capture.Init(); err != nil {
		return nil, nil, err
	}
	if err := capture.Start(ctx); err != nil {
		_ = capture.Close()
		return nil, nil, err
	}
	return capture, nil, nil
}

// buildEngine assembles the analyzer, policy and engine from settings.
func buildEngine(settings *config.Settings) (*beat.Engine, error) {
	analyzer, err := spectrum.NewAnalyzer(spectrum.Config{
		SampleRate:    settings.SampleRate,
		TransformSize: settings.TransformSize,
	})
	if err != nil {
		return nil, err
	}

	policy, err := buildPolicy(settings)
	if err != nil {
		return nil, err
	}

	return beat.NewEngine(beat.Config{
		KickBand:    spectrum.Band{Name: "kick", MinHz: settings.KickMinHz, MaxHz: settings.KickMaxHz},
		BassBand:    spectrum.Band{Name: "bass", MinHz: settings.BassMinHz, MaxHz: settings.BassMaxHz},
		FluxMaxHz:   settings.FluxMaxHz,
		HistorySize: settings.HistorySize,
		Lookahead:   time.Duration(settings.LookaheadMs) * time.Millisecond,
		Refractory:  time.Duration(settings.RefractoryMs) * time.Millisecond,
	}, analyzer, policy)
}

// buildPolicy selects the decision strategy named in config.
func buildPolicy(settings *config.Settings) (beat.Policy, error) {
	switch settings.Policy {
	case "impulse":
		return beat.NewImpulsePolicy(settings.ThresholdFloor, settings.ThresholdMultiplier, settings.Dominance)
	case "flux":
		return beat.NewFluxPolicy(settings.ThresholdFloor, settings.FluxWeight,
			settings.AdaptiveOffset, settings.AdaptiveNoisyOffset, settings.VarianceTolerance)
	default:
		return nil, fmt.Errorf("%w: %q", beat.ErrUnknownPolicy, settings.Policy)
	}
}

// wait blocks until the context is cancelled or, for file input, until
// playback runs past the end of the file.
func wait(ctx context.Context, wavFile *source.WAVFile) {
	if wavFile == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wavFile.Finished() {
				return
			}
		}
	}
}
