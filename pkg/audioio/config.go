// Package audioio provides audio capture and playback for go-sonant.
//
// This package supports multiple backends:
//   - Device - exec-based capture/playback via arecord and ffplay
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on configuration, or can be
// explicitly specified.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendDevice uses a real audio device via external tools.
	BackendDevice Backend = "device"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Capture and playback sample rates for the live model channel.
const (
	// CaptureSampleRate is the microphone sample rate the model expects.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the sample rate of model audio replies.
	PlaybackSampleRate = 24000
	// DefaultWindowSamples is the capture framing window size.
	DefaultWindowSamples = 4096
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// WindowSamples is the number of samples per capture window.
	// Each window becomes one outbound chunk. Default: 4096.
	WindowSamples int `yaml:"window_samples" json:"window_samples"`

	// Device is the platform-specific device identifier.
	// Examples: "hw:0,0", "default", "plughw:1,0"
	Device string `yaml:"device" json:"device"`
}

// CaptureConfig returns a Config for microphone capture at 16 kHz mono.
func CaptureConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    CaptureSampleRate,
		Channels:      1,
		WindowSamples: DefaultWindowSamples,
	}
}

// PlaybackConfig returns a Config for reply playback at 24 kHz mono.
func PlaybackConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    PlaybackSampleRate,
		Channels:      1,
		WindowSamples: DefaultWindowSamples,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.WindowSamples <= 0 {
		return fmt.Errorf("window_samples must be positive, got %d", c.WindowSamples)
	}
	return nil
}

// WindowBytes returns the size of one capture window in bytes.
func (c *Config) WindowBytes() int {
	return c.WindowSamples * c.Channels * 2 // 2 bytes per int16 sample
}

// WindowDuration returns the duration of one capture window.
func (c *Config) WindowDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.WindowSamples) / float64(c.SampleRate) * float64(time.Second))
}
