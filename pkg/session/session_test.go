package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/candorlabs/go-sonant/pkg/audioio"
	"github.com/candorlabs/go-sonant/pkg/live"
	"github.com/candorlabs/go-sonant/pkg/tools"
)

// mockTransport implements Transport with configurable behavior and
// captured calls.
type mockTransport struct {
	mu sync.Mutex

	// OpenFunc overrides the default success when set.
	OpenFunc func(ctx context.Context) error

	events    chan live.Event
	closeOnce sync.Once

	openCalls  int
	closeCalls int
	audio      [][]byte
	results    []tools.ToolResult
}

func newMockTransport() *mockTransport {
	return &mockTransport{events: make(chan live.Event, 16)}
}

func (m *mockTransport) Open(ctx context.Context) error {
	m.mu.Lock()
	m.openCalls++
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *mockTransport) SendAudioChunk(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.audio = append(m.audio, buf)
	return nil
}

func (m *mockTransport) SendToolResult(id, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, tools.ToolResult{CallID: id, Result: result})
	return nil
}

func (m *mockTransport) Events() <-chan live.Event {
	return m.events
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()

	m.closeOnce.Do(func() { close(m.events) })
	return nil
}

func (m *mockTransport) emit(ev live.Event) {
	m.events <- ev
}

func (m *mockTransport) audioCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audio)
}

func (m *mockTransport) resultsFor(id string) []tools.ToolResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []tools.ToolResult
	for _, r := range m.results {
		if r.CallID == id {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockTransport) counts() (open, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls, m.closeCalls
}

// failingSource always fails to open, simulating a missing or denied
// capture device.
type failingSource struct {
	audioio.Source
}

func (f *failingSource) Start(ctx context.Context) error {
	return audioio.ErrDeviceUnavailable
}

func newTestSession(t *testing.T, cfg Config) (*Session, *mockTransport, *audioio.MockSource, *audioio.MockSink) {
	t.Helper()

	transport := newMockTransport()
	source := audioio.NewMockSource(audioio.CaptureConfig(), nil)
	sink := audioio.NewMockSink(audioio.PlaybackConfig(), nil)

	s := New(cfg, transport, source, sink)
	return s, transport, source, sink
}

func TestStartConnectsAndStreamsCapture(t *testing.T) {
	s, transport, source, _ := newTestSession(t, DefaultConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	if got := s.State(); got != StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if open, _ := transport.counts(); open != 1 {
		t.Errorf("expected 1 open call, got %d", open)
	}

	// One capture window becomes exactly one outbound chunk.
	if !source.GenerateWindow() {
		t.Fatal("push failed")
	}
	waitFor(t, func() bool { return transport.audioCount() == 1 }, "capture window never sent")

	captureCfg := audioio.CaptureConfig()
	want := captureCfg.WindowBytes()
	if got := len(transport.audio[0]); got != want {
		t.Errorf("expected %d-byte chunk, got %d", want, got)
	}
}

func TestStartRequiresDisconnected(t *testing.T) {
	s, _, _, _ := newTestSession(t, DefaultConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestStartCaptureFailure(t *testing.T) {
	transport := newMockTransport()
	sink := audioio.NewMockSink(audioio.PlaybackConfig(), nil)
	s := New(DefaultConfig(), transport, &failingSource{}, sink)

	err := s.Start(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if !errors.Is(err, audioio.ErrDeviceUnavailable) {
		t.Errorf("device cause should be preserved, got %v", err)
	}

	if got := s.State(); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}
	if open, _ := transport.counts(); open != 0 {
		t.Errorf("transport must not be opened after capture failure, got %d opens", open)
	}
}

func TestStartConnectFailure(t *testing.T) {
	s, transport, source, sink := newTestSession(t, DefaultConfig())
	transport.OpenFunc = func(ctx context.Context) error {
		return errors.New("401 unauthorized")
	}

	err := s.Start(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}

	if got := s.State(); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}
	// The already-acquired devices are released on the failure branch.
	if source.Stats().Running {
		t.Error("capture device leaked after connect failure")
	}
	if sink.Stats().Running {
		t.Error("playback device leaked after connect failure")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, transport, source, _ := newTestSession(t, DefaultConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Stop(); err != nil {
			t.Fatalf("stop %d failed: %v", i, err)
		}
		if got := s.State(); got != StateDisconnected {
			t.Fatalf("stop %d: expected disconnected, got %s", i, got)
		}
	}

	// Each resource released exactly once.
	if _, closed := transport.counts(); closed != 1 {
		t.Errorf("expected 1 transport close, got %d", closed)
	}
	if source.Stats().Running {
		t.Error("capture device still running after stop")
	}
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	s, transport, _, _ := newTestSession(t, DefaultConfig())

	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("expected disconnected, got %s", got)
	}
	if _, closed := transport.counts(); closed != 0 {
		t.Errorf("nothing to close before start, got %d closes", closed)
	}
}

func TestTransportErrorTearsDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock = &manualClock{}
	s, transport, source, _ := newTestSession(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	transport.emit(live.Event{Kind: live.EventAudio, Audio: pcmChunk(500*time.Millisecond, audioio.PlaybackSampleRate)})
	waitFor(t, func() bool { return s.scheduler.ScheduledCount() == 1 }, "audio chunk never scheduled")

	transport.emit(live.Event{Kind: live.EventError, Err: errors.New("connection reset")})
	waitFor(t, func() bool { return s.State() == StateError }, "session never reached error state")

	if !errors.Is(s.Err(), ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", s.Err())
	}
	if got := s.scheduler.ScheduledCount(); got != 0 {
		t.Errorf("scheduled buffers must be stopped on teardown, %d left", got)
	}
	if source.Stats().Running {
		t.Error("capture device leaked after transport error")
	}
	if _, closed := transport.counts(); closed != 1 {
		t.Errorf("expected 1 transport close, got %d", closed)
	}
}

func TestRemoteCloseDisconnects(t *testing.T) {
	s, transport, _, _ := newTestSession(t, DefaultConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	transport.emit(live.Event{Kind: live.EventClosed})
	waitFor(t, func() bool { return s.State() == StateDisconnected }, "session never disconnected")

	if s.Err() != nil {
		t.Errorf("orderly close is not an error, got %v", s.Err())
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	s, transport, _, _ := newTestSession(t, DefaultConfig())

	s.RegisterTool(tools.Tool{
		Name: "generate_image",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if got := tools.StringArg(args, "prompt"); got != "a cat" {
				t.Errorf("unexpected prompt %q", got)
			}
			return tools.ImageResultText, nil
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	transport.emit(live.Event{Kind: live.EventToolCall, Call: live.ToolCall{
		ID:        "x1",
		Name:      "generate_image",
		Arguments: map[string]any{"prompt": "a cat"},
	}})

	waitFor(t, func() bool { return len(transport.resultsFor("x1")) == 1 }, "tool result never sent")

	got := transport.resultsFor("x1")
	if got[0].Result != tools.ImageResultText {
		t.Errorf("expected %q, got %q", tools.ImageResultText, got[0].Result)
	}
}

func TestTurnCompleteEndsSpeaking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock = &manualClock{}
	s, transport, _, _ := newTestSession(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	transport.emit(live.Event{Kind: live.EventAudio, Audio: pcmChunk(500*time.Millisecond, audioio.PlaybackSampleRate)})
	waitFor(t, func() bool { return s.Speaking() }, "speaking never turned on")

	transport.emit(live.Event{Kind: live.EventTurnComplete})
	waitFor(t, func() bool { return !s.Speaking() }, "turn complete never ended speaking")

	if got := s.scheduler.ScheduledCount(); got != 1 {
		t.Errorf("buffers keep playing after turn complete, %d scheduled", got)
	}
}

func TestInterruptedClearsPlayback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock = &manualClock{}
	s, transport, _, sink := newTestSession(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	transport.emit(live.Event{Kind: live.EventAudio, Audio: pcmChunk(500*time.Millisecond, audioio.PlaybackSampleRate)})
	waitFor(t, func() bool { return s.scheduler.ScheduledCount() == 1 }, "audio chunk never scheduled")

	transport.emit(live.Event{Kind: live.EventInterrupted})
	waitFor(t, func() bool { return s.scheduler.ScheduledCount() == 0 }, "interruption never cleared playback")

	if s.Speaking() {
		t.Error("speaking should be false after interruption")
	}
	if sink.ClearCount() != 1 {
		t.Errorf("expected sink clear on interruption, got %d", sink.ClearCount())
	}
}

func TestTranscriptCallback(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	cfg := DefaultConfig()
	cfg.OnTranscript = func(text string) {
		mu.Lock()
		lines = append(lines, text)
		mu.Unlock()
	}
	s, transport, _, _ := newTestSession(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	transport.emit(live.Event{Kind: live.EventTranscript, Text: "hello there"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1 && lines[0] == "hello there"
	}, "transcript never delivered")
}

func TestStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var states []State

	cfg := DefaultConfig()
	cfg.OnStateChange = func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}
	s, _, _, _ := newTestSession(t, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}
}
