// internal/session/session.go
// Package session composes a signal source with the beat engine and drives
// both from a single tick loop. It owns the session-scoped state the engine
// deliberately does not: the sink registration, the enabled flag gating
// effect delivery, and the source's lifecycle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmahler/beatdetect/internal/beat"
	"github.com/dmahler/beatdetect/internal/recovery"
	"github.com/dmahler/beatdetect/internal/source"
)

var (
	// ErrEngineRequired indicates a beat engine is required
	ErrEngineRequired = errors.New("beat engine is required")
	// ErrSourceRequired indicates a signal source is required
	ErrSourceRequired = errors.New("signal source is required")
	// ErrNotInitialized indicates Init must succeed before Start
	ErrNotInitialized = errors.New("session not initialized")
	// ErrAlreadyStarted indicates the session is already running
	ErrAlreadyStarted = errors.New("session already started")
)

// Config holds session scheduling tunables.
// All values should come from the application config file.
type Config struct {
	// TickInterval is the scheduling period for detect+drain
	// (from config: tick_ms)
	TickInterval time.Duration
	// ReadyPolls bounds the readiness wait at Init (from config: ready_polls)
	ReadyPolls int
	// ReadyPollInterval is the sleep between readiness checks
	// (from config: ready_poll_ms)
	ReadyPollInterval time.Duration
	// OwnsSource makes Cleanup close the source. A source the session does
	// not own is never destroyed.
	OwnsSource bool
}

// DefaultConfig returns display-refresh-rate scheduling defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:      16 * time.Millisecond,
		ReadyPolls:        50,
		ReadyPollInterval: 100 * time.Millisecond,
		OwnsSource:        true,
	}
}

// Session wires one Source into one beat Engine for the life of a single
// continuous detection session. The tick loop is the sole caller of the
// engine, so the engine needs no locking; the session's own mutex only
// guards lifecycle state and the sink/enabled registration.
type Session struct {
	config Config
	src    source.Source
	engine *beat.Engine

	mu          sync.Mutex
	sink        beat.Callback
	enabled     bool
	initialized bool
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}

	snapshot []byte
}

// New creates a session over the given source and engine.
func New(cfg Config, src source.Source, engine *beat.Engine) (*Session, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if engine == nil {
		return nil, ErrEngineRequired
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Session{
		config:   cfg,
		src:      src,
		engine:   engine,
		enabled:  true,
		snapshot: make([]byte, src.TransformSize()/2),
	}, nil
}

// SetSink registers the beat callback. It runs synchronously on the tick
// loop and must be fast.
func (s *Session) SetSink(cb beat.Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = cb
}

// SetEnabled gates effect delivery. When disabled, due events are still
// consumed from the queue but the sink is not invoked.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Init waits, bounded, for the source to become ready. Failure means the
// session never starts; it is reported, not fatal.
func (s *Session) Init(ctx context.Context) error {
	if err := source.AwaitReady(ctx, s.src, s.config.ReadyPolls, s.config.ReadyPollInterval); err != nil {
		return err
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Start launches the tick loop. Each tick runs exactly one detect step and
// one drain step; the loop never re-enters itself.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go func() {
		defer recovery.HandlePanic()
		defer close(s.done)

		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				s.step(now)
			}
		}
	}()

	return nil
}

// step is the per-tick handler: refresh the snapshot, run the detect step if
// the snapshot is present, then drain due events. A missing snapshot is a
// transient gap - the tick contributes nothing and the next tick retries.
func (s *Session) step(now time.Time) {
	n := s.src.FrequencyData(s.snapshot)
	if n > 0 {
		s.engine.Tick(now, s.snapshot[:n])
	}

	s.mu.Lock()
	sink := s.sink
	if !s.enabled {
		sink = nil
	}
	s.mu.Unlock()

	s.engine.Drain(now, sink)
}

// Stop ceases ticking and halts the engine. Events still queued are
// discarded, never flushed late.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.engine.Stop()
}

// Cleanup releases the source connection if the session owns it.
func (s *Session) Cleanup() error {
	s.Stop()
	if s.config.OwnsSource {
		return s.src.Close()
	}
	return nil
}

// Running reports whether the tick loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
