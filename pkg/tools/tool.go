// Package tools defines the callable tools a session exposes to the model
// and the dispatcher that runs them concurrently, correlating each result
// back to its originating call id.
package tools

import "context"

// Tool represents a function that the model can invoke during conversation.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "generate_image").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide
	// when to use it.
	Description string `json:"description"`

	// Parameters defines the JSON schema for the tool's arguments.
	// Example:
	//   map[string]any{
	//       "type": "object",
	//       "properties": map[string]any{
	//           "prompt": map[string]any{"type": "string"},
	//       },
	//       "required": []string{"prompt"},
	//   }
	Parameters map[string]any `json:"parameters"`

	// Handler is called when the model invokes this tool. It receives the
	// parsed arguments and returns a result string or error. The result is
	// sent back to the model to continue the conversation.
	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// ToolCall represents an invocation of a tool by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call.
	// Used to match results back to the correct call.
	ID string

	// Name is the tool being invoked.
	Name string

	// Arguments contains the parsed arguments from the model.
	Arguments map[string]any
}

// ToolResult represents the result of a tool invocation.
type ToolResult struct {
	// CallID matches the ToolCall.ID this result corresponds to.
	CallID string

	// Result is the string result to send back to the model.
	Result string
}

// StringArg extracts a string argument by key, returning "" when absent or
// of the wrong type.
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
