// Package config loads postforge settings from a YAML file.
//
// Every field has a default (see DefaultConfig), so a config file only needs
// the values it changes. Durations are written the way time.ParseDuration
// reads them ("10s", "168h").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full postforge configuration.
type Config struct {
	Browser   BrowserConfig       `yaml:"browser" json:"browser"`
	Session   SessionConfig       `yaml:"session" json:"session"`
	Site      SiteConfig          `yaml:"site" json:"site"`
	Timing    TimingConfig        `yaml:"timing" json:"timing"`
	Typing    TypingConfig        `yaml:"typing" json:"typing"`
	Challenge ChallengeConfig     `yaml:"challenge" json:"challenge"`
	Selectors map[string][]string `yaml:"selectors" json:"selectors"` // Candidate overrides keyed by target name
	LLM       LLMConfig           `yaml:"llm" json:"llm"`
	Image     ImageConfig         `yaml:"image" json:"image"`
	Pipeline  PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	Logging   LoggingConfig       `yaml:"logging" json:"logging"`
}

// BrowserConfig controls the Chromium instance.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ProfileDir     string        `yaml:"profile_dir" json:"profile_dir"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	SlowMo         time.Duration `yaml:"slow_mo" json:"slow_mo"`
	LaunchArgs     []string      `yaml:"launch_args" json:"launch_args"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	Path        string        `yaml:"path" json:"path"`
	MaxAge      time.Duration `yaml:"max_age" json:"max_age"`
	PortableEnv string        `yaml:"portable_env" json:"portable_env"` // Env var holding a base64 session
}

// SiteConfig holds the target site URLs.
type SiteConfig struct {
	LoginURL string `yaml:"login_url" json:"login_url"`
	FeedURL  string `yaml:"feed_url" json:"feed_url"`
	Origin   string `yaml:"origin" json:"origin"`
}

// TimingConfig bounds every wait.
type TimingConfig struct {
	Settle          time.Duration `yaml:"settle" json:"settle"`
	StepPause       time.Duration `yaml:"step_pause" json:"step_pause"`
	ElementWait     time.Duration `yaml:"element_wait" json:"element_wait"`
	MarkerWait      time.Duration `yaml:"marker_wait" json:"marker_wait"`
	CaptchaWait     time.Duration `yaml:"captcha_wait" json:"captcha_wait"`
	ToastWait       time.Duration `yaml:"toast_wait" json:"toast_wait"`
	UploadWait      time.Duration `yaml:"upload_wait" json:"upload_wait"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout" json:"navigate_timeout"`
}

// TypingConfig controls human-paced input.
type TypingConfig struct {
	MinDelay  time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay  time.Duration `yaml:"max_delay" json:"max_delay"`
	HumanPost bool          `yaml:"human_post" json:"human_post"` // Type the post per character instead of filling it
}

// ChallengeConfig bounds login challenge polling.
type ChallengeConfig struct {
	MaxPolls     int           `yaml:"max_polls" json:"max_polls"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// LLMConfig configures the text model used by the content pipeline.
type LLMConfig struct {
	Model       string  `yaml:"model" json:"model"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"-"`
	APIKeyEnv   string  `yaml:"api_key_env" json:"api_key_env"`
	MaxRPM      int     `yaml:"max_rpm" json:"max_rpm"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// Image providers.
const (
	ImageProviderOpenAI      = "openai"
	ImageProviderHuggingFace = "huggingface"
)

// ImageConfig configures image generation.
type ImageConfig struct {
	Provider      string  `yaml:"provider" json:"provider"`
	Model         string  `yaml:"model" json:"model"`
	BaseURL       string  `yaml:"base_url" json:"base_url"`
	APIKey        string  `yaml:"api_key" json:"-"`
	APIKeyEnv     string  `yaml:"api_key_env" json:"api_key_env"`
	OutputDir     string  `yaml:"output_dir" json:"output_dir"`
	Size          string  `yaml:"size" json:"size"` // OpenAI size, e.g. "1024x1024"
	Width         int     `yaml:"width" json:"width"`
	Height        int     `yaml:"height" json:"height"`
	GuidanceScale float64 `yaml:"guidance_scale" json:"guidance_scale"`
	Steps         int     `yaml:"steps" json:"steps"`
}

// PipelineConfig configures the content pipeline.
type PipelineConfig struct {
	AgentsFile string        `yaml:"agents_file" json:"agents_file"` // Empty uses the built-in agents
	TasksFile  string        `yaml:"tasks_file" json:"tasks_file"`   // Empty uses the built-in tasks
	StageDelay time.Duration `yaml:"stage_delay" json:"stage_delay"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls console output: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// DefaultPath returns ~/.postforge/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".postforge", "config.yaml")
	}
	return filepath.Join(homeDir, ".postforge", "config.yaml")
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:       false,
			ProfileDir:     "~/.postforge/browser-profile",
			ViewportWidth:  1280,
			ViewportHeight: 800,
			LaunchArgs:     []string{"--disable-blink-features=AutomationControlled"},
		},
		Session: SessionConfig{
			Path:        "~/.postforge/linkedin_session.json",
			MaxAge:      7 * 24 * time.Hour,
			PortableEnv: "LINKEDIN_SESSION_B64",
		},
		Site: SiteConfig{
			LoginURL: "https://www.linkedin.com/login",
			FeedURL:  "https://www.linkedin.com/feed/",
			Origin:   "https://www.linkedin.com",
		},
		Timing: TimingConfig{
			Settle:          5 * time.Second,
			StepPause:       2 * time.Second,
			ElementWait:     10 * time.Second,
			MarkerWait:      10 * time.Second,
			CaptchaWait:     2 * time.Second,
			ToastWait:       5 * time.Second,
			UploadWait:      30 * time.Second,
			NavigateTimeout: 30 * time.Second,
		},
		Typing: TypingConfig{
			MinDelay:  50 * time.Millisecond,
			MaxDelay:  150 * time.Millisecond,
			HumanPost: true,
		},
		Challenge: ChallengeConfig{
			MaxPolls:     30,
			PollInterval: 10 * time.Second,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY_TEXT",
			MaxRPM:      20,
			Temperature: 0.7,
		},
		Image: ImageConfig{
			Provider:      ImageProviderOpenAI,
			APIKeyEnv:     "OPENAI_API_KEY_IMAGE",
			OutputDir:     "~/.postforge/images",
			Size:          "1024x1024",
			Width:         1024,
			Height:        1024,
			GuidanceScale: 7.5,
			Steps:         20,
		},
		Pipeline: PipelineConfig{
			StageDelay: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path reads
// DefaultPath when it exists and otherwise returns the defaults. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ExpandPaths replaces a leading "~" in every path field with the home
// directory.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Browser.ProfileDir,
		&c.Session.Path,
		&c.Image.OutputDir,
		&c.Pipeline.AgentsFile,
		&c.Pipeline.TasksFile,
	} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ExpandHome expands "~" and "~/..." to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Session.Path == "" {
		return fmt.Errorf("session.path is required")
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	if c.Browser.ProfileDir == "" {
		return fmt.Errorf("browser.profile_dir is required")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport cannot be negative")
	}

	for name, u := range map[string]string{
		"site.login_url": c.Site.LoginURL,
		"site.feed_url":  c.Site.FeedURL,
		"site.origin":    c.Site.Origin,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, u)
		}
	}

	for name, d := range map[string]time.Duration{
		"timing.settle":           c.Timing.Settle,
		"timing.step_pause":       c.Timing.StepPause,
		"timing.element_wait":     c.Timing.ElementWait,
		"timing.marker_wait":      c.Timing.MarkerWait,
		"timing.captcha_wait":     c.Timing.CaptchaWait,
		"timing.toast_wait":       c.Timing.ToastWait,
		"timing.upload_wait":      c.Timing.UploadWait,
		"timing.navigate_timeout": c.Timing.NavigateTimeout,
		"typing.min_delay":        c.Typing.MinDelay,
		"typing.max_delay":        c.Typing.MaxDelay,
		"challenge.poll_interval": c.Challenge.PollInterval,
		"pipeline.stage_delay":    c.Pipeline.StageDelay,
		"browser.slow_mo":         c.Browser.SlowMo,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}

	if c.Typing.MaxDelay < c.Typing.MinDelay {
		return fmt.Errorf("typing.max_delay (%s) is less than typing.min_delay (%s)", c.Typing.MaxDelay, c.Typing.MinDelay)
	}
	if c.Challenge.MaxPolls < 1 {
		return fmt.Errorf("challenge.max_polls must be at least 1")
	}

	if err := validateSelectors(c.Selectors); err != nil {
		return err
	}

	if c.LLM.MaxRPM < 0 {
		return fmt.Errorf("llm.max_rpm cannot be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	switch c.Image.Provider {
	case ImageProviderOpenAI, ImageProviderHuggingFace:
	default:
		return fmt.Errorf("invalid image.provider: %s (must be 'openai' or 'huggingface')", c.Image.Provider)
	}
	if c.Image.Width < 0 || c.Image.Height < 0 || c.Image.Steps < 0 {
		return fmt.Errorf("image dimensions and steps cannot be negative")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// ResolveAPIKey picks an API key with precedence flag > environment > file.
// envName is the role's own variable, so each role reads a separate key.
func ResolveAPIKey(flagValue, envName, fileValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return v
		}
	}
	return fileValue
}
