// Package main provides the postforge command: it publishes a LinkedIn post
// from text, a file, or a generated topic summary, reusing a saved browser
// session when one is still fresh.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/config"
	"github.com/entrhq/postforge/pkg/logging"
	"github.com/entrhq/postforge/pkg/runner"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile    string
	Text          string
	TextFile      string
	MediaPath     string
	Topic         string
	Generate      bool
	DryRun        bool
	Image         bool
	ImagePrompt   string
	Headless      bool
	ExportSession bool
	ImportSession string
	ResetSession  bool
	Verbosity     string
	Timeout       time.Duration
	ReportFile    string
	ShowVersion   bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("postforge v%s\n", version)
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("postforge failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{set: make(map[string]bool)}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML, default ~/.postforge/config.yaml)")
	flag.StringVar(&cli.Text, "text", "", "Post text")
	flag.StringVar(&cli.TextFile, "text-file", "", "Read the post text from a file ('-' for stdin)")
	flag.StringVar(&cli.MediaPath, "media", "", "Image or video to attach")
	flag.StringVar(&cli.Topic, "topic", "", "Topic for the content pipeline")
	flag.BoolVar(&cli.Generate, "generate", false, "Write the post with the content pipeline (requires -topic)")
	flag.BoolVar(&cli.DryRun, "dry-run", false, "With -generate, print the generated post instead of publishing it")
	flag.BoolVar(&cli.Image, "image", false, "Generate an image to attach")
	flag.StringVar(&cli.ImagePrompt, "image-prompt", "", "Prompt for -image when posting given text (default: the post text)")
	flag.BoolVar(&cli.Headless, "headless", false, "Run the browser without a window (overrides browser.headless)")
	flag.BoolVar(&cli.ExportSession, "export-session", false, "Print the saved session as base64 and exit")
	flag.StringVar(&cli.ImportSession, "import-session", "", "Import a base64 session from a file ('-' for stdin) and exit")
	flag.BoolVar(&cli.ResetSession, "reset-session", false, "Delete the saved session and exit")
	flag.StringVar(&cli.Verbosity, "verbosity", "", "Console output: quiet, normal, verbose, debug (overrides logging.verbosity)")
	flag.DurationVar(&cli.Timeout, "timeout", 15*time.Minute, "Overall run timeout")
	flag.StringVar(&cli.ReportFile, "report", "", "Write the run report as JSON to this path")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "postforge - publish LinkedIn posts from the command line\n\n")
		fmt.Fprintf(os.Stderr, "Usage: postforge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Post text with an image\n")
		fmt.Fprintf(os.Stderr, "  postforge -text \"Shipping today\" -media launch.png\n\n")
		fmt.Fprintf(os.Stderr, "  # Research a topic, generate an image and post\n")
		fmt.Fprintf(os.Stderr, "  postforge -generate -topic \"AI agents\" -image\n\n")
		fmt.Fprintf(os.Stderr, "  # Move a session to CI\n")
		fmt.Fprintf(os.Stderr, "  postforge -export-session > session.b64\n\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })
	return cli
}

// run executes one postforge command
func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("postforge")
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	defer logger.Close()

	console := logging.NewConsole(logging.ParseVerbosity(cfg.Logging.Verbosity))

	manager := browser.NewManager(logger.WithComponent("browser"))
	defer func() {
		if shutdownErr := manager.Shutdown(); shutdownErr != nil {
			logger.Warnf("browser shutdown: %v", shutdownErr)
		}
	}()

	r, err := runner.New(cfg, manager, runner.WithLogger(logger))
	if err != nil {
		return err
	}

	switch {
	case cli.ResetSession:
		if err := r.ResetSession(); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		console.Successf("Session deleted: %s", cfg.Session.Path)
		return nil
	case cli.ExportSession:
		encoded, err := r.ExportSession()
		if err != nil {
			return fmt.Errorf("failed to export session: %w", err)
		}
		fmt.Println(encoded)
		return nil
	case cli.ImportSession != "":
		data, err := readInput(cli.ImportSession)
		if err != nil {
			return err
		}
		if err := r.ImportSession(string(data)); err != nil {
			return fmt.Errorf("failed to import session: %w", err)
		}
		console.Successf("Session imported: %s", cfg.Session.Path)
		return nil
	}

	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	console.Header(fmt.Sprintf("postforge v%s", version))
	logger.Infof("log file: %s", logger.LogPath())

	var rep runner.Report
	if cli.Generate {
		if strings.TrimSpace(cli.Topic) == "" {
			return errors.New("-generate requires -topic")
		}
		if cli.DryRun {
			return generateOnly(ctx, r, console, cli.Topic)
		}
		console.Step(fmt.Sprintf("Generating and publishing a post about %q", cli.Topic))
		rep = r.Pipeline(ctx, runner.PipelineJob{
			Topic:         cli.Topic,
			GenerateImage: cli.Image,
			MediaPath:     cli.MediaPath,
		})
	} else {
		text, err := postText(cli)
		if err != nil {
			return err
		}
		job := runner.Job{Text: text, MediaPath: cli.MediaPath}
		if cli.Image && cli.MediaPath == "" {
			job.ImagePrompt = cli.ImagePrompt
			if job.ImagePrompt == "" {
				job.ImagePrompt = text
			}
		}
		console.Step("Publishing post")
		rep = r.Post(ctx, job)
	}

	for _, w := range rep.Warnings {
		console.Warningf("%s", w)
	}
	console.Summary(rep.Success, rep.Message, []logging.SummaryLine{
		{Key: "Failed at", Value: rep.Stage},
		{Key: "Auth", Value: rep.AuthState},
		{Key: "Session saved", Value: yesNo(rep.SessionSaved)},
		{Key: "Media", Value: rep.MediaPath},
		{Key: "Run ID", Value: rep.RunID},
		{Key: "Log", Value: logger.LogPath()},
	})

	if cli.ReportFile != "" {
		if err := rep.WriteJSON(cli.ReportFile); err != nil {
			console.Warningf("%v", err)
		}
	}

	if !rep.Success {
		return errors.New(rep.Message)
	}
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cli.set["headless"] {
		cfg.Browser.Headless = cli.Headless
	}
	if cli.Verbosity != "" {
		cfg.Logging.Verbosity = cli.Verbosity
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func generateOnly(ctx context.Context, r *runner.Runner, console *logging.Console, topic string) error {
	console.Step(fmt.Sprintf("Generating a post about %q", topic))
	out, err := r.Generate(ctx, topic)
	if err != nil {
		return fmt.Errorf("content pipeline failed: %w", err)
	}

	console.Successf("Post generated")
	fmt.Println(out.Post)
	if out.ImagePrompt != "" {
		console.Infof("Image prompt: %s", out.ImagePrompt)
	}
	return nil
}

func postText(cli *CLIConfig) (string, error) {
	if cli.Text != "" && cli.TextFile != "" {
		return "", errors.New("use either -text or -text-file, not both")
	}
	if cli.TextFile != "" {
		data, err := readInput(cli.TextFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	if strings.TrimSpace(cli.Text) == "" {
		return "", errors.New("nothing to post: give -text, -text-file, or -generate -topic")
	}
	return cli.Text, nil
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
