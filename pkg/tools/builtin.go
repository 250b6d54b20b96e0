package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/candorlabs/go-sonant/pkg/artifact"
)

// Result texts returned to the model by the built-in tools.
const (
	ImageResultText = "Image generated and displayed successfully."
	CodeResultText  = "Code generated and saved successfully."
)

// ErrMissingArgument indicates a required tool argument was absent.
var ErrMissingArgument = errors.New("tools: missing required argument")

// ImageRenderer generates an image from a prompt and makes it visible to
// the user. It may take arbitrary time and must be safe to call
// concurrently.
type ImageRenderer interface {
	Render(ctx context.Context, prompt string) error
}

// GeneratedCode is the output of one code generation request.
type GeneratedCode struct {
	// Files are the generated files, merged into the artifact store by name.
	Files []artifact.File

	// Summary is the generator's description of what was produced.
	Summary string
}

// CodeGenerator produces a file set from a natural-language description.
type CodeGenerator interface {
	Generate(ctx context.Context, description string) (*GeneratedCode, error)
}

// NewImageTool declares the generate_image tool backed by renderer.
func NewImageTool(renderer ImageRenderer) Tool {
	return Tool{
		Name:        "generate_image",
		Description: "Generates an image from a text prompt and displays it to the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "What the image should depict.",
				},
			},
			"required": []string{"prompt"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			prompt := StringArg(args, "prompt")
			if prompt == "" {
				return "", fmt.Errorf("%w: prompt", ErrMissingArgument)
			}
			if err := renderer.Render(ctx, prompt); err != nil {
				return "", fmt.Errorf("render image: %w", err)
			}
			return ImageResultText, nil
		},
	}
}

// NewCodeTool declares the generate_code tool backed by generator. The
// produced file set is merged into store by filename (last-write-wins) and
// the exchange is appended to the chat log.
func NewCodeTool(generator CodeGenerator, store artifact.Store) Tool {
	return Tool{
		Name:        "generate_code",
		Description: "Generates code from a description and saves the resulting files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "What the code should do.",
				},
			},
			"required": []string{"description"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			description := StringArg(args, "description")
			if description == "" {
				return "", fmt.Errorf("%w: description", ErrMissingArgument)
			}

			generated, err := generator.Generate(ctx, description)
			if err != nil {
				return "", fmt.Errorf("generate code: %w", err)
			}

			if err := store.MergeFiles(generated.Files); err != nil {
				return "", fmt.Errorf("save files: %w", err)
			}

			summary := generated.Summary
			if summary == "" {
				summary = CodeResultText
			}
			if err := store.AppendChat(
				artifact.ChatEntry{Role: "user", Text: description},
				artifact.ChatEntry{Role: "model", Text: summary},
			); err != nil {
				return "", fmt.Errorf("save chat log: %w", err)
			}

			return CodeResultText, nil
		},
	}
}
