package live

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultEndpoint is the bidirectional generation WebSocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is the default live model.
	DefaultModel = "models/gemini-2.0-flash-exp"

	// DefaultVoice is the default prebuilt voice.
	DefaultVoice = "Puck"
)

// Common errors returned by the live channel.
var (
	ErrNotConnected       = errors.New("live: not connected")
	ErrAlreadyConnected   = errors.New("live: already connected")
	ErrMissingCredentials = errors.New("live: API key or token source required")
)

// ToolDecl declares one tool to the model: name, description and a JSON
// schema for its parameters.
type ToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Config holds the live channel configuration.
type Config struct {
	// Endpoint is the WebSocket URL. Default: DefaultEndpoint.
	Endpoint string

	// APIKey authenticates via query parameter.
	APIKey string

	// TokenSource authenticates via bearer token when APIKey is empty.
	TokenSource oauth2.TokenSource

	// Model is the live model identifier.
	Model string

	// Voice is the prebuilt voice name for audio replies.
	Voice string

	// SystemInstruction is the system prompt for the session.
	SystemInstruction string

	// ResponseModalities requested from the model. Default: ["AUDIO"].
	ResponseModalities []string

	// Tools declares the callable tools for this session.
	Tools []ToolDecl

	// HandshakeTimeout bounds dial plus setup acknowledgement.
	// Default: 10s.
	HandshakeTimeout time.Duration

	// SendQueueDepth bounds the outbound message queue. Default: 64.
	SendQueueDepth int

	// Logger receives structured channel logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults. Credentials must
// still be supplied.
func DefaultConfig() Config {
	return Config{
		Endpoint:           DefaultEndpoint,
		Model:              DefaultModel,
		Voice:              DefaultVoice,
		ResponseModalities: []string{"AUDIO"},
		HandshakeTimeout:   10 * time.Second,
		SendQueueDepth:     64,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.TokenSource == nil {
		return ErrMissingCredentials
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Endpoint == "" {
		out.Endpoint = DefaultEndpoint
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Voice == "" {
		out.Voice = DefaultVoice
	}
	if len(out.ResponseModalities) == 0 {
		out.ResponseModalities = []string{"AUDIO"}
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.SendQueueDepth <= 0 {
		out.SendQueueDepth = 64
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
