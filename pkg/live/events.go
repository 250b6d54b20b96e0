package live

// EventKind identifies the variant of an inbound Event.
type EventKind int

const (
	// EventToolCall is a request to invoke a named tool. One event is
	// emitted per call, before any audio carried in the same frame.
	EventToolCall EventKind = iota

	// EventAudio is a decoded audio reply chunk (PCM16, 24 kHz mono).
	EventAudio

	// EventTranscript carries the model's speech as text.
	EventTranscript

	// EventInterrupted signals the model reply was cut off because the
	// user started speaking. Buffered playback should be discarded.
	EventInterrupted

	// EventTurnComplete marks the authoritative end of the model's turn.
	EventTurnComplete

	// EventClosed signals the remote end closed the channel normally.
	EventClosed

	// EventError signals a transport fault. The channel is unusable.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToolCall:
		return "tool_call"
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCall is a model-issued request to invoke a named tool.
// ID must be echoed verbatim in the corresponding result.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Event is one demultiplexed inbound message variant.
// Exactly the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Call is set for EventToolCall.
	Call ToolCall

	// Audio is set for EventAudio: raw PCM16 bytes at 24 kHz mono.
	Audio []byte

	// Text is set for EventTranscript.
	Text string

	// Err is set for EventError.
	Err error
}
