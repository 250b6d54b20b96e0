package session

import "log/slog"

// Config controls session behavior. The zero value is usable; DefaultConfig
// fills in the documented defaults explicitly.
type Config struct {
	// MaxConcurrentToolCalls bounds tool-call fan-out.
	// <= 0 selects the dispatcher default.
	MaxConcurrentToolCalls int `json:"max_concurrent_tool_calls" yaml:"max_concurrent_tool_calls"`

	// CaptureQueueDepth bounds the capture-to-transport handoff queue.
	// <= 0 selects DefaultCaptureQueueDepth.
	CaptureQueueDepth int `json:"capture_queue_depth" yaml:"capture_queue_depth"`

	// PlaybackSampleRate is the inbound reply audio rate in Hz.
	// <= 0 selects audioio.PlaybackSampleRate.
	PlaybackSampleRate int `json:"playback_sample_rate" yaml:"playback_sample_rate"`

	// Clock overrides the output clock. Nil selects the real clock.
	Clock Clock `json:"-" yaml:"-"`

	// OnSpeaking is called when the derived speaking signal changes.
	// Must not call back into the session.
	OnSpeaking func(bool) `json:"-" yaml:"-"`

	// OnTranscript receives model speech as text when the channel
	// provides it.
	OnTranscript func(string) `json:"-" yaml:"-"`

	// OnStateChange is called on every state transition. It runs on the
	// session's internal goroutines and must return quickly.
	OnStateChange func(State) `json:"-" yaml:"-"`

	// Logger is used for session logging. Nil selects slog.Default.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentToolCalls: 8,
		CaptureQueueDepth:      DefaultCaptureQueueDepth,
	}
}

// WithSpeakingCallback returns a copy with the speaking callback set.
func (c Config) WithSpeakingCallback(fn func(bool)) Config {
	c.OnSpeaking = fn
	return c
}

// WithTranscriptCallback returns a copy with the transcript callback set.
func (c Config) WithTranscriptCallback(fn func(string)) Config {
	c.OnTranscript = fn
	return c
}

// WithLogger returns a copy with the logger set.
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	return c
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
