// Package live implements the duplex channel to the remote conversational
// model. It wraps a WebSocket connection, exposes best-effort audio and
// tool-result sends, and demultiplexes inbound server messages into a single
// ordered event stream consumed by one reader.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a live channel to the remote model.
//
// Concurrency model: callers may send from any goroutine; all writes are
// serialized through one writer goroutine draining a bounded queue, and all
// reads happen on one reader goroutine feeding the Events channel.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	ws        *websocket.Conn
	connected bool
	closed    bool

	events   chan Event
	sendCh   chan any
	closedCh chan struct{}

	// Stats
	audioSent    atomic.Int64
	audioDropped atomic.Int64
	audioRecv    atomic.Int64
	toolResults  atomic.Int64
}

// NewClient creates a new live channel client. Open must be called before
// sending.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		events:   make(chan Event, 32),
		sendCh:   make(chan any, cfg.SendQueueDepth),
		closedCh: make(chan struct{}),
	}, nil
}

// Open dials the endpoint, sends the session setup (modalities, voice,
// system instruction, tool declarations) and waits for the server's setup
// acknowledgement. On success the inbound event stream starts flowing.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	url := c.cfg.Endpoint
	header := make(http.Header)
	if c.cfg.APIKey != "" {
		url = fmt.Sprintf("%s?key=%s", url, c.cfg.APIKey)
	} else {
		token, err := c.cfg.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("live: token source: %w", err)
		}
		token.SetAuthHeader(&http.Request{Header: header})
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("live: dial: %w", err)
	}

	if err := ws.WriteJSON(c.setupMessage()); err != nil {
		ws.Close()
		return fmt.Errorf("live: send setup: %w", err)
	}

	if err := c.awaitSetupComplete(ws); err != nil {
		ws.Close()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	go c.writeLoop(ws)
	go c.readLoop(ws)

	c.logger.Info("live channel open",
		"model", c.cfg.Model,
		"voice", c.cfg.Voice,
		"tools", len(c.cfg.Tools),
	)

	return nil
}

func (c *Client) setupMessage() setupMessage {
	payload := setupPayload{
		Model: c.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: c.cfg.ResponseModalities,
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
				},
			},
		},
	}

	if c.cfg.SystemInstruction != "" {
		payload.SystemInstruction = &systemInstruction{
			Parts: []textPart{{Text: c.cfg.SystemInstruction}},
		}
	}

	if len(c.cfg.Tools) > 0 {
		payload.Tools = []toolsPayload{{FunctionDeclarations: c.cfg.Tools}}
	}

	return setupMessage{Setup: payload}
}

// awaitSetupComplete reads until the setup acknowledgement arrives.
func (c *Client) awaitSetupComplete(ws *websocket.Conn) error {
	if err := ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return fmt.Errorf("live: set deadline: %w", err)
	}
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("live: awaiting setup ack: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("live: unparseable message before setup ack", "error", err)
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// SendAudioChunk queues one capture window for delivery. The send is
// best-effort: when the queue is full the chunk is dropped rather than
// blocking the caller, since the capture path has a real-time deadline.
func (c *Client) SendAudioChunk(pcm []byte) error {
	c.mu.RLock()
	if !c.connected || c.closed {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				Data:     base64.StdEncoding.EncodeToString(pcm),
				MimeType: "audio/pcm",
			}},
		},
	}

	select {
	case c.sendCh <- msg:
		c.audioSent.Add(1)
	default:
		c.audioDropped.Add(1)
		c.logger.Debug("live: send queue full, dropping audio chunk")
	}
	return nil
}

// SendToolResult returns a tool result to the model, correlated by call id.
// No acknowledgement is expected from the remote end.
func (c *Client) SendToolResult(id, result string) error {
	c.mu.RLock()
	if !c.connected || c.closed {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	msg := toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{{
				ID:       id,
				Response: map[string]any{"result": result},
			}},
		},
	}

	select {
	case c.sendCh <- msg:
		c.toolResults.Add(1)
		return nil
	case <-c.closedCh:
		return ErrNotConnected
	}
}

// Events returns the inbound event stream. The channel is closed after a
// terminal EventClosed or EventError, or after Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// IsConnected returns true while the channel is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.closed
}

// Close shuts the channel down. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	ws := c.ws
	c.mu.Unlock()

	close(c.closedCh)
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// writeLoop drains the send queue onto the wire. A write failure after open
// is reported through the event stream as EventError, keeping one unified
// failure path.
func (c *Client) writeLoop(ws *websocket.Conn) {
	for {
		select {
		case <-c.closedCh:
			return
		case msg := <-c.sendCh:
			if err := ws.WriteJSON(msg); err != nil {
				c.emit(Event{Kind: EventError, Err: fmt.Errorf("live: write: %w", err)})
				return
			}
		}
	}
}

// readLoop demultiplexes raw server messages into events, in arrival order.
func (c *Client) readLoop(ws *websocket.Conn) {
	defer close(c.events)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()

			if closed {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Event{Kind: EventClosed})
			} else {
				c.emit(Event{Kind: EventError, Err: fmt.Errorf("live: read: %w", err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("live: failed to parse message", "error", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage emits the events carried by one server message. Tool calls
// always precede the audio chunk from the same frame.
func (c *Client) handleMessage(msg *serverMessage) {
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			c.emit(Event{Kind: EventToolCall, Call: ToolCall{
				ID:        fc.ID,
				Name:      fc.Name,
				Arguments: fc.Args,
			}})
		}
	}

	content := msg.ServerContent
	if content == nil {
		return
	}

	if content.Interrupted {
		c.emit(Event{Kind: EventInterrupted})
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil && isPCMMime(part.InlineData.MimeType) {
				audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					// Malformed chunk: drop it, keep the session alive.
					c.logger.Warn("live: dropping undecodable audio chunk", "error", err)
					continue
				}
				if len(audio) > 0 {
					c.audioRecv.Add(1)
					c.emit(Event{Kind: EventAudio, Audio: audio})
				}
			}
			if part.Text != "" {
				c.emit(Event{Kind: EventTranscript, Text: part.Text})
			}
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		c.emit(Event{Kind: EventTranscript, Text: content.OutputTranscription.Text})
	}

	if content.TurnComplete {
		c.emit(Event{Kind: EventTurnComplete})
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closedCh:
	}
}

func isPCMMime(mime string) bool {
	return mime == "audio/pcm" || strings.HasPrefix(mime, "audio/pcm;")
}

// Stats is a point-in-time snapshot of channel counters.
type Stats struct {
	AudioChunksSent     int64 `json:"audio_chunks_sent"`
	AudioChunksDropped  int64 `json:"audio_chunks_dropped"`
	AudioChunksReceived int64 `json:"audio_chunks_received"`
	ToolResultsSent     int64 `json:"tool_results_sent"`
}

// Stats returns channel statistics.
func (c *Client) Stats() Stats {
	return Stats{
		AudioChunksSent:     c.audioSent.Load(),
		AudioChunksDropped:  c.audioDropped.Load(),
		AudioChunksReceived: c.audioRecv.Load(),
		ToolResultsSent:     c.toolResults.Load(),
	}
}
