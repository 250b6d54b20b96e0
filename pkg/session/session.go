// Package session owns the real-time conversation lifecycle: it wires the
// capture pipeline, the duplex model channel, the playback scheduler and
// the tool dispatcher together under one state machine, and guarantees
// idempotent teardown of all of them from any state, including a partially
// initialized one.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/candorlabs/go-sonant/pkg/audioio"
	"github.com/candorlabs/go-sonant/pkg/live"
	"github.com/candorlabs/go-sonant/pkg/tools"
)

// Transport is the duplex channel surface the session drives. live.Client
// implements it; tests substitute a mock.
type Transport interface {
	// Open performs the connect handshake, including tool declarations.
	Open(ctx context.Context) error

	// SendAudioChunk queues one capture window, best-effort.
	SendAudioChunk(pcm []byte) error

	// SendToolResult returns a tool result correlated by call id.
	SendToolResult(id, result string) error

	// Events is the inbound stream, demultiplexed and in arrival order.
	// It closes after a terminal event or Close.
	Events() <-chan live.Event

	// Close shuts the channel down. Safe to call multiple times.
	Close() error
}

var _ Transport = (*live.Client)(nil)

// Session is the top-level controller. One Session owns at most one live
// transport/capture pair at a time.
//
// State machine: Disconnected -> Connecting -> Connected -> {Disconnected,
// Error}. Start is valid only from Disconnected; Stop is valid from any
// state and idempotent.
type Session struct {
	cfg    Config
	logger *slog.Logger

	transport Transport
	source    audioio.Source
	sink      audioio.Sink
	scheduler *Scheduler
	capture   *capturePipeline

	mu         sync.Mutex
	state      State
	lastErr    error
	registered []tools.Tool
	dispatcher *tools.Dispatcher

	// Per-resource release guards. Teardown must be safe from a partially
	// initialized state, so each is tracked independently.
	sourceStarted  bool
	sinkStarted    bool
	transportOpen  bool
	captureArmed   bool
	schedulerAlive bool

	loopDone chan struct{}
}

// New creates a session over the given transport and audio devices. The
// session takes ownership of starting and stopping them; Close of the
// underlying devices stays with the caller.
func New(cfg Config, transport Transport, source audioio.Source, sink audioio.Sink) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:       cfg,
		logger:    cfg.Logger,
		transport: transport,
		source:    source,
		sink:      sink,
		state:     StateDisconnected,
	}

	s.scheduler = NewScheduler(sink, cfg.PlaybackSampleRate, cfg.Clock, cfg.Logger)
	if cfg.OnSpeaking != nil {
		s.scheduler.OnSpeaking(cfg.OnSpeaking)
	}
	s.capture = newCapturePipeline(source, transport, cfg.CaptureQueueDepth, cfg.Logger)

	return s
}

// RegisterTool adds a tool handler. Must be called before Start.
func (s *Session) RegisterTool(tool tools.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, tool)
}

// Start connects the session: it acquires the capture device, opens the
// transport, and on the transport's acknowledgement arms the capture
// pipeline and the inbound event loop. Valid only from Disconnected. On any
// acquisition failure the session runs full teardown and lands in Error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, st)
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	if err := s.source.Start(ctx); err != nil {
		return s.failStart(fmt.Errorf("%w: %w", ErrCaptureUnavailable, err))
	}
	s.mu.Lock()
	s.sourceStarted = true
	s.mu.Unlock()

	if err := s.sink.Start(ctx); err != nil {
		return s.failStart(fmt.Errorf("%w: output: %w", ErrCaptureUnavailable, err))
	}
	s.mu.Lock()
	s.sinkStarted = true
	s.mu.Unlock()

	if err := s.transport.Open(ctx); err != nil {
		return s.failStart(fmt.Errorf("%w: %w", ErrConnect, err))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Stopped while connecting.
		s.transportOpen = true
		s.teardownLocked()
		s.mu.Unlock()
		return fmt.Errorf("%w: stopped while connecting", ErrInvalidState)
	}
	s.transportOpen = true
	s.schedulerAlive = true
	s.dispatcher = tools.NewDispatcher(s.transport, s.cfg.MaxConcurrentToolCalls, s.logger)
	for _, t := range s.registered {
		s.dispatcher.Register(t)
	}
	dispatcher := s.dispatcher

	s.capture.start()
	s.captureArmed = true

	s.loopDone = make(chan struct{})
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	go s.eventLoop(dispatcher)

	s.logger.Info("session connected",
		"source", s.source.Name(),
		"sink", s.sink.Name(),
		"tools", len(s.registered),
	)

	return nil
}

// failStart tears down whatever Start acquired and lands in Error.
func (s *Session) failStart(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.teardownLocked()
	s.setStateLocked(StateError)
	s.mu.Unlock()

	s.logger.Error("session start failed", "error", err)
	return err
}

// eventLoop is the single consumer of the inbound stream. Events are
// processed strictly in arrival order; tool calls fan out to the
// dispatcher without blocking audio delivery.
func (s *Session) eventLoop(dispatcher *tools.Dispatcher) {
	defer close(s.loopDone)

	for ev := range s.transport.Events() {
		switch ev.Kind {
		case live.EventToolCall:
			dispatcher.Dispatch(tools.ToolCall{
				ID:        ev.Call.ID,
				Name:      ev.Call.Name,
				Arguments: ev.Call.Arguments,
			})

		case live.EventAudio:
			s.scheduler.Schedule(ev.Audio)

		case live.EventTranscript:
			if s.cfg.OnTranscript != nil {
				s.cfg.OnTranscript(ev.Text)
			}

		case live.EventInterrupted:
			s.scheduler.Clear()

		case live.EventTurnComplete:
			s.scheduler.EndTurn()

		case live.EventClosed:
			s.shutdown(StateDisconnected, nil)
			return

		case live.EventError:
			s.shutdown(StateError, fmt.Errorf("%w: %w", ErrTransport, ev.Err))
			return
		}
	}
	// Stream closed without a terminal event: Stop already ran teardown.
}

// shutdown runs teardown in reaction to a terminal inbound event. A
// session already stopped by the caller stays Disconnected.
func (s *Session) shutdown(target State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	if err != nil {
		s.lastErr = err
		s.logger.Error("session terminated", "error", err)
	}
	s.teardownLocked()
	s.setStateLocked(target)
}

// Stop disconnects the session and releases every owned resource. Valid
// from any state; calling it repeatedly or from Disconnected is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	loopDone := s.loopDone
	s.teardownLocked()
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	return nil
}

// teardownLocked releases each acquired resource exactly once. Every step
// guards independently so it is safe from any partial state and on repeat
// calls.
func (s *Session) teardownLocked() {
	if s.captureArmed {
		s.captureArmed = false
		s.capture.stop()
	}
	if s.sourceStarted {
		s.sourceStarted = false
		if err := s.source.Stop(); err != nil {
			s.logger.Debug("capture stop failed", "error", err)
		}
	}
	if s.transportOpen {
		s.transportOpen = false
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.schedulerAlive {
		s.schedulerAlive = false
		s.scheduler.Stop()
	}
	if s.sinkStarted {
		s.sinkStarted = false
		if err := s.sink.Stop(); err != nil {
			s.logger.Debug("playback stop failed", "error", err)
		}
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fault that moved the session to Error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Speaking reports whether the model is currently audible.
func (s *Session) Speaking() bool {
	return s.scheduler.Speaking()
}

// Done returns a channel closed when the inbound event loop exits. It is
// nil before the first successful Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopDone
}

// SessionStats is a point-in-time snapshot across the session's parts.
type SessionStats struct {
	State           State `json:"state"`
	WindowsSent     int64 `json:"windows_sent"`
	CaptureOverruns int64 `json:"capture_overruns"`
	ChunksScheduled int64 `json:"chunks_scheduled"`
	ChunksDropped   int64 `json:"chunks_dropped"`
	ToolCalls       int64 `json:"tool_calls"`
	ToolFailures    int64 `json:"tool_failures"`
}

// Stats returns session statistics.
func (s *Session) Stats() SessionStats {
	cs := s.capture.stats()
	sched := s.scheduler.Stats()

	s.mu.Lock()
	st := s.state
	dispatcher := s.dispatcher
	s.mu.Unlock()

	out := SessionStats{
		State:           st,
		WindowsSent:     cs.WindowsSent,
		CaptureOverruns: cs.Overruns,
		ChunksScheduled: sched.ChunksScheduled,
		ChunksDropped:   sched.ChunksDropped,
	}
	if dispatcher != nil {
		ds := dispatcher.Stats()
		out.ToolCalls = ds.Dispatched
		out.ToolFailures = ds.Failed
	}
	return out
}
