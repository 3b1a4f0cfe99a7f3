// Package imagegen turns a text prompt into an image file on disk.
//
// Two backends are provided: the OpenAI Images API and the Hugging Face
// Inference API. Both write a PNG into an output directory and return its
// path, which the runner attaches to the post.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/postforge/pkg/config"
	"github.com/google/uuid"
)

// ErrEmptyPrompt is returned when Generate is called without a prompt.
var ErrEmptyPrompt = errors.New("image prompt is empty")

// Generator produces an image for a prompt and returns the file path.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New builds the generator selected by cfg.Provider. apiKey is the image
// role's own key.
func New(cfg config.ImageConfig, apiKey string) (Generator, error) {
	switch cfg.Provider {
	case config.ImageProviderOpenAI, "":
		return NewOpenAIGenerator(apiKey, OpenAIOptions{
			Model:     cfg.Model,
			Size:      cfg.Size,
			BaseURL:   cfg.BaseURL,
			OutputDir: cfg.OutputDir,
		})
	case config.ImageProviderHuggingFace:
		return NewHuggingFaceGenerator(apiKey, HuggingFaceOptions{
			Model:         cfg.Model,
			BaseURL:       cfg.BaseURL,
			OutputDir:     cfg.OutputDir,
			Width:         cfg.Width,
			Height:        cfg.Height,
			GuidanceScale: cfg.GuidanceScale,
			Steps:         cfg.Steps,
		})
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}

func checkPrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}

// writeImage stores data under dir with a unique name.
func writeImage(dir, prefix string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("image response was empty")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", prefix, uuid.NewString()[:8]))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}
