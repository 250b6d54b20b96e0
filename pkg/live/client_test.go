package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is a scripted live endpoint for client tests.
type fakeServer struct {
	*httptest.Server

	upgrader websocket.Upgrader

	// script runs once a client connects and setup has been acknowledged.
	script func(t *testing.T, conn *websocket.Conn)
}

func newFakeServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *fakeServer {
	t.Helper()

	fs := &fakeServer{script: script}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Expect the setup message first.
		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup failed: %v", err)
			return
		}
		if _, ok := setup["setup"]; !ok {
			t.Errorf("first message should be setup, got %v", setup)
			return
		}

		if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
			t.Errorf("write setup ack failed: %v", err)
			return
		}

		if fs.script != nil {
			fs.script(t, conn)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func newTestClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Endpoint = fs.wsURL()
	cfg.APIKey = "test-key"
	cfg.SystemInstruction = "You are a test assistant."
	cfg.Tools = []ToolDecl{{Name: "generate_image", Description: "Generates an image."}}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestClientOpenHandshake(t *testing.T) {
	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		// Hold the connection open until the client closes.
		conn.ReadMessage()
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("client should be connected after open")
	}

	if err := client.Open(context.Background()); err != ErrAlreadyConnected {
		t.Errorf("second open should return ErrAlreadyConnected, got %v", err)
	}
}

func TestClientRequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewClient(cfg); err != ErrMissingCredentials {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestClientDemuxToolCallsBeforeAudio(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString(make([]byte, 480))

	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		// One frame carrying two tool calls and an audio chunk.
		frame := map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{
					map[string]any{"id": "x1", "name": "generate_image", "args": map[string]any{"prompt": "a cat"}},
					map[string]any{"id": "x2", "name": "generate_code", "args": map[string]any{"description": "a server"}},
				},
			},
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audio}},
					},
				},
			},
		}
		if err := conn.WriteJSON(frame); err != nil {
			t.Errorf("write frame failed: %v", err)
		}
		conn.ReadMessage()
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	var kinds []EventKind
	var calls []ToolCall
	timeout := time.After(2 * time.Second)
	for len(kinds) < 3 {
		select {
		case ev := <-client.Events():
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventToolCall {
				calls = append(calls, ev.Call)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}

	want := []EventKind{EventToolCall, EventToolCall, EventAudio}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected %v, got %v", i, k, kinds[i])
		}
	}

	if calls[0].ID != "x1" || calls[0].Name != "generate_image" {
		t.Errorf("first call mismatch: %+v", calls[0])
	}
	if prompt, _ := calls[0].Arguments["prompt"].(string); prompt != "a cat" {
		t.Errorf("expected prompt 'a cat', got %q", prompt)
	}
	if calls[1].ID != "x2" || calls[1].Name != "generate_code" {
		t.Errorf("second call mismatch: %+v", calls[1])
	}
}

func TestClientUndecodableAudioIsDropped(t *testing.T) {
	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		bad := map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm", "data": "%%%not-base64%%%"}},
					},
				},
				"turnComplete": true,
			},
		}
		if err := conn.WriteJSON(bad); err != nil {
			t.Errorf("write frame failed: %v", err)
		}
		conn.ReadMessage()
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	// The malformed chunk is dropped; turn complete still arrives.
	select {
	case ev := <-client.Events():
		if ev.Kind != EventTurnComplete {
			t.Errorf("expected turn complete after dropped chunk, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn complete")
	}
}

func TestClientSendAudioAndToolResult(t *testing.T) {
	received := make(chan map[string]any, 4)

	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
		conn.ReadMessage()
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	pcm := make([]byte, 8192)
	if err := client.SendAudioChunk(pcm); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}
	if err := client.SendToolResult("x1", "Image generated and displayed successfully."); err != nil {
		t.Fatalf("send tool result failed: %v", err)
	}

	var sawAudio, sawResult bool
	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if _, ok := msg["realtime_input"]; ok {
				sawAudio = true
			}
			if tr, ok := msg["tool_response"].(map[string]any); ok {
				sawResult = true
				responses, _ := tr["function_responses"].([]any)
				if len(responses) != 1 {
					t.Fatalf("expected 1 function response, got %d", len(responses))
				}
				first, _ := responses[0].(map[string]any)
				if first["id"] != "x1" {
					t.Errorf("expected id x1, got %v", first["id"])
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for outbound messages")
		}
	}

	if !sawAudio || !sawResult {
		t.Errorf("expected audio and tool result, got audio=%v result=%v", sawAudio, sawResult)
	}

	stats := client.Stats()
	if stats.AudioChunksSent != 1 {
		t.Errorf("expected 1 audio chunk sent, got %d", stats.AudioChunksSent)
	}
	if stats.ToolResultsSent != 1 {
		t.Errorf("expected 1 tool result sent, got %d", stats.ToolResultsSent)
	}
}

func TestClientSendWhenNotConnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	if err := client.SendAudioChunk([]byte{1}); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := client.SendToolResult("x", "r"); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClientRemoteClose(t *testing.T) {
	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	select {
	case ev := <-client.Events():
		if ev.Kind != EventClosed {
			t.Errorf("expected EventClosed, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	fs := newFakeServer(t, func(t *testing.T, conn *websocket.Conn) {
		conn.ReadMessage()
	})

	client := newTestClient(t, fs)
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("client should not be connected after close")
	}
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventToolCall, "tool_call"},
		{EventAudio, "audio"},
		{EventTurnComplete, "turn_complete"},
		{EventClosed, "closed"},
		{EventError, "error"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestSetupMessageShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	cfg.SystemInstruction = "hello"
	cfg.Tools = []ToolDecl{{Name: "generate_image", Description: "d", Parameters: map[string]any{"type": "object"}}}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	data, err := json.Marshal(client.setupMessage())
	if err != nil {
		t.Fatalf("marshal setup failed: %v", err)
	}

	for _, key := range []string{"generation_config", "response_modalities", "system_instruction", "function_declarations", "prebuilt_voice_config"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("setup message missing %q: %s", key, data)
		}
	}
}
