package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/internal/providers"
	"github.com/NikhilSetiya/voxgate/pkg/config"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

const version = "1.0.0"

// CLIOptions holds the flags shared by every command
type CLIOptions struct {
	Args          []string
	Model         string
	System        string
	Temperature   float64
	Instructions  string
	LanguageCode  string
	SpeakerLabels bool
	Punctuate     bool
	FormatText    bool
	Timeout       time.Duration
	JSON          bool
	Verbose       bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// .env is optional
	_ = godotenv.Load()

	command := os.Args[1]
	switch command {
	case "generate":
		os.Exit(runGenerate(parseOptions()))
	case "transcribe":
		os.Exit(runTranscribe(parseOptions(), orchestrator.RunTranscribe))
	case "analyze":
		os.Exit(runTranscribe(parseOptions(), orchestrator.RunTranscribeAndAnalyze))
	case "version":
		printVersion()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("voxgate CLI - resilient text generation and transcription")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  voxgate-cli generate \"PROMPT\" [options]")
	fmt.Println("  voxgate-cli transcribe FILE [options]")
	fmt.Println("  voxgate-cli analyze FILE [options]")
	fmt.Println("  voxgate-cli version")
	fmt.Println("  voxgate-cli help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --model=NAME               Text generation model")
	fmt.Println("  --system=TEXT              System instruction for generate")
	fmt.Println("  --temperature=FLOAT        Sampling temperature for generate")
	fmt.Println("  --instructions=TEXT        Intent instructions for analyze")
	fmt.Println("  --language=CODE            Transcription language code, e.g. en_us")
	fmt.Println("  --speaker-labels           Request speaker diarization")
	fmt.Println("  --punctuate                Request punctuation")
	fmt.Println("  --format-text              Request text formatting")
	fmt.Println("  --timeout=DURATION         Overall timeout (default: 10m)")
	fmt.Println("  --json                     Print the full result as JSON")
	fmt.Println("  --verbose                  Enable debug logging")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY             Text generation API key")
	fmt.Println("  ASSEMBLYAI_API_KEY         Transcription API key")
	fmt.Println("  ORCH_*                     Resilience settings, see README")
}

func printVersion() {
	fmt.Printf("voxgate CLI v%s\n", version)
}

func parseOptions() *CLIOptions {
	options := &CLIOptions{Timeout: 10 * time.Minute}

	for _, arg := range os.Args[2:] {
		if strings.HasPrefix(arg, "--model=") {
			options.Model = strings.TrimPrefix(arg, "--model=")
		} else if strings.HasPrefix(arg, "--system=") {
			options.System = strings.TrimPrefix(arg, "--system=")
		} else if strings.HasPrefix(arg, "--temperature=") {
			if t, err := strconv.ParseFloat(strings.TrimPrefix(arg, "--temperature="), 64); err == nil {
				options.Temperature = t
			}
		} else if strings.HasPrefix(arg, "--instructions=") {
			options.Instructions = strings.TrimPrefix(arg, "--instructions=")
		} else if strings.HasPrefix(arg, "--language=") {
			options.LanguageCode = strings.TrimPrefix(arg, "--language=")
		} else if strings.HasPrefix(arg, "--timeout=") {
			if timeout, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout=")); err == nil {
				options.Timeout = timeout
			}
		} else if arg == "--speaker-labels" {
			options.SpeakerLabels = true
		} else if arg == "--punctuate" {
			options.Punctuate = true
		} else if arg == "--format-text" {
			options.FormatText = true
		} else if arg == "--json" {
			options.JSON = true
		} else if arg == "--verbose" {
			options.Verbose = true
		} else if !strings.HasPrefix(arg, "--") {
			options.Args = append(options.Args, arg)
		}
	}

	return options
}

// newOrchestrator wires the orchestrator from the environment. Logs go to
// stderr so stdout carries only results.
func newOrchestrator(options *CLIOptions) (*orchestrator.Orchestrator, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if options.Verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(&logging.Config{
		Level:       level,
		Format:      "text",
		Output:      "stderr",
		ServiceName: "voxgate-cli",
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)

	zapLogger := zap.NewNop()
	if options.Verbose {
		if zapLogger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	textGen, transcriber := providers.FromConfig(cfg.Providers, nil, zapLogger)
	return orchestrator.New(orchestrator.ConfigFromSettings(cfg.Orchestrator), textGen, transcriber,
		orchestrator.WithLogger(logger)), nil
}

// signalContext is cancelled on SIGINT or SIGTERM or when the timeout passes
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func runGenerate(options *CLIOptions) int {
	if len(options.Args) == 0 {
		fmt.Fprintln(os.Stderr, "generate requires a prompt")
		return 1
	}

	orch, err := newOrchestrator(options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer orch.Close()

	ctx, cancel := signalContext(options.Timeout)
	defer cancel()

	result := orch.Generate(ctx, strings.Join(options.Args, " "), orchestrator.GenerateOptions{
		Model:             options.Model,
		SystemInstruction: options.System,
		Temperature:       options.Temperature,
	})
	if !result.Ok() {
		return printFailure(result.Failure())
	}

	if options.JSON {
		return printJSON(map[string]interface{}{
			"text":     result.Value(),
			"attempts": result.Attempts(),
			"cached":   result.FromCache(),
		})
	}
	fmt.Println(result.Value())
	return 0
}

func runTranscribe(options *CLIOptions, kind orchestrator.RunKind) int {
	if len(options.Args) == 0 {
		fmt.Fprintf(os.Stderr, "%s requires an audio file\n", kind)
		return 1
	}

	audio, err := os.ReadFile(options.Args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read audio: %v\n", err)
		return 1
	}

	orch, err := newOrchestrator(options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer orch.Close()

	ctx, cancel := signalContext(options.Timeout)
	defer cancel()

	progress := orchestrator.NewProgressChannel(32)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderProgress(progress.C())
	}()

	opts := orchestrator.TranscribeOptions{
		LanguageCode:  options.LanguageCode,
		SpeakerLabels: options.SpeakerLabels,
		Punctuate:     options.Punctuate,
		FormatText:    options.FormatText,
	}

	var (
		failure *orchestrator.Failure
		output  interface{}
		text    string
	)
	if kind == orchestrator.RunTranscribeAndAnalyze {
		result := orch.TranscribeAndAnalyze(ctx, audio, opts, orchestrator.IntentOptions{Instructions: options.Instructions}, progress)
		failure = result.Failure()
		if result.Ok() {
			output = result.Value()
			intent, _ := json.MarshalIndent(result.Value().Intent, "", "  ")
			text = string(intent)
		}
	} else {
		result := orch.Transcribe(ctx, audio, opts, progress)
		failure = result.Failure()
		if result.Ok() {
			output = result.Value()
			text = result.Value().Text
		}
	}

	progress.Close()
	<-rendered

	if failure != nil {
		return printFailure(failure)
	}
	if options.JSON {
		return printJSON(output)
	}
	fmt.Println(text)
	return 0
}

func renderProgress(updates <-chan orchestrator.Progress) {
	printed := false
	for p := range updates {
		fmt.Fprintf(os.Stderr, "\r[%3.0f%%] %-10s %-40s", p.Fraction*100, p.Phase, p.Message)
		printed = true
	}
	if printed {
		fmt.Fprintln(os.Stderr)
	}
}

func printFailure(failure *orchestrator.Failure) int {
	fmt.Fprintf(os.Stderr, "Error [%s] after %d attempt(s): %s\n", failure.Code, failure.Attempts, failure.Message)
	return 2
}

func printJSON(v interface{}) int {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	return 0
}
