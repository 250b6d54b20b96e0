// Command sonant-live runs a live voice session against the remote model:
// microphone capture streams out, model replies play back gaplessly, and
// tool calls (generate_image, generate_code) are answered while the audio
// keeps flowing.
//
// Usage:
//
//	go run ./cmd/sonant-live                     # auto-detect audio backend
//	go run ./cmd/sonant-live --backend mock      # synthetic audio, no devices
//	go run ./cmd/sonant-live --voice Kore --debug
//
// Environment variables required:
//
//	GOOGLE_API_KEY - API key for the live endpoint
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/candorlabs/go-sonant/internal/log"
	"github.com/candorlabs/go-sonant/pkg/artifact"
	"github.com/candorlabs/go-sonant/pkg/audioio"
	"github.com/candorlabs/go-sonant/pkg/live"
	"github.com/candorlabs/go-sonant/pkg/session"
	"github.com/candorlabs/go-sonant/pkg/tools"
)

func main() {
	backend := flag.String("backend", "auto", "Audio backend: auto, device, mock")
	device := flag.String("device", "default", "Capture device name")
	voice := flag.String("voice", live.DefaultVoice, "Voice identifier for model replies")
	model := flag.String("model", live.DefaultModel, "Model to converse with")
	prompt := flag.String("prompt", "You are a friendly voice assistant. Keep responses brief.", "System instruction")
	artifacts := flag.String("artifacts", "sonant-artifacts.json", "Path for generated files and chat log")
	maxTools := flag.Int("max-tools", 8, "Maximum concurrent tool calls")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		fmt.Println("❌ GOOGLE_API_KEY is not set")
		os.Exit(1)
	}

	fmt.Println("🎤 Sonant Live Session")
	fmt.Println("======================")
	fmt.Printf("Model: %s\n", *model)
	fmt.Printf("Voice: %s\n", *voice)
	fmt.Printf("Audio backend: %s\n", *backend)
	fmt.Println()

	if err := run(*backend, *device, *voice, *model, *prompt, *artifacts, apiKey, *maxTools); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func run(backend, device, voice, model, prompt, artifactsPath, apiKey string, maxTools int) error {
	// Audio devices
	captureCfg := audioio.CaptureConfig()
	captureCfg.Backend = audioio.Backend(backend)
	captureCfg.Device = device

	playbackCfg := audioio.PlaybackConfig()
	playbackCfg.Backend = audioio.Backend(backend)

	source, err := audioio.NewSource(captureCfg, log.L())
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer source.Close()

	sink, err := audioio.NewSink(playbackCfg, log.L())
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}
	defer sink.Close()

	// Artifact store for generated code and the chat log
	store, err := artifact.NewJSONStore(artifactsPath)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	imageTool := tools.NewImageTool(&consoleRenderer{})
	codeTool := tools.NewCodeTool(&fileGenerator{}, store)

	// Live channel with the tool schema declared up front
	liveCfg := live.DefaultConfig()
	liveCfg.APIKey = apiKey
	liveCfg.Model = model
	liveCfg.Voice = voice
	liveCfg.SystemInstruction = prompt
	liveCfg.Logger = log.L()
	liveCfg.Tools = []live.ToolDecl{
		{Name: imageTool.Name, Description: imageTool.Description, Parameters: imageTool.Parameters},
		{Name: codeTool.Name, Description: codeTool.Description, Parameters: codeTool.Parameters},
	}

	client, err := live.NewClient(liveCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	sessCfg := session.DefaultConfig()
	sessCfg.MaxConcurrentToolCalls = maxTools
	sessCfg.Logger = log.L()
	sessCfg.OnSpeaking = func(speaking bool) {
		if speaking {
			fmt.Println("🔊 speaking...")
		}
	}
	sessCfg.OnTranscript = func(text string) {
		fmt.Printf("💬 %s\n", strings.TrimSpace(text))
	}

	sess := session.New(sessCfg, client, source, sink)
	sess.RegisterTool(imageTool)
	sess.RegisterTool(codeTool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("🔌 Connecting...")
	if err := sess.Start(ctx); err != nil {
		return err
	}
	fmt.Println("✅ Connected! Speak into the microphone. Ctrl+C to stop.")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\n🛑 Interrupted")
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			fmt.Printf("\n❌ Session ended: %v\n", err)
		} else {
			fmt.Println("\n👋 Session closed by remote end")
		}
	}

	if err := sess.Stop(); err != nil {
		return err
	}

	printStats(sess.Stats())
	return nil
}

func printStats(st session.SessionStats) {
	fmt.Println()
	fmt.Println("📊 Session Stats")
	fmt.Println("================")
	fmt.Printf("Windows sent:     %d\n", st.WindowsSent)
	fmt.Printf("Capture overruns: %d\n", st.CaptureOverruns)
	fmt.Printf("Chunks played:    %d\n", st.ChunksScheduled)
	fmt.Printf("Chunks dropped:   %d\n", st.ChunksDropped)
	fmt.Printf("Tool calls:       %d (%d failed)\n", st.ToolCalls, st.ToolFailures)
}

// consoleRenderer stands in for an image generation service: it announces
// the prompt instead of rendering pixels.
type consoleRenderer struct{}

func (consoleRenderer) Render(ctx context.Context, prompt string) error {
	fmt.Printf("🖼️  [image requested] %s\n", prompt)
	return nil
}

// fileGenerator stands in for a code generation service: it records the
// request as a note so the artifact store and chat log are exercised
// end to end.
type fileGenerator struct{}

func (fileGenerator) Generate(ctx context.Context, description string) (*tools.GeneratedCode, error) {
	name := fmt.Sprintf("request-%d.md", time.Now().Unix())
	return &tools.GeneratedCode{
		Files: []artifact.File{{
			Name:    name,
			Content: fmt.Sprintf("# Code request\n\n%s\n", description),
		}},
		Summary: "Recorded the code request for later generation.",
	}, nil
}
