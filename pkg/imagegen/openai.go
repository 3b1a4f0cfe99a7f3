package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the OpenAI backend.
const (
	DefaultOpenAIModel = "dall-e-3"
	DefaultOpenAISize  = "1024x1024"
)

// OpenAIOptions configures an OpenAIGenerator.
type OpenAIOptions struct {
	Model      string
	Size       string
	BaseURL    string
	OutputDir  string
	HTTPClient *http.Client
}

// OpenAIGenerator generates images with the OpenAI Images API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
	size   string
	outDir string
}

// NewOpenAIGenerator creates a generator using apiKey.
func NewOpenAIGenerator(apiKey string, opts OpenAIOptions) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI image API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	if opts.Size == "" {
		opts.Size = DefaultOpenAISize
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		clientOpts = append(clientOpts, option.WithBaseURL(base))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAIGenerator{
		client: openai.NewClient(clientOpts...),
		model:  opts.Model,
		size:   opts.Size,
		outDir: opts.OutputDir,
	}, nil
}

// Generate requests one base64 image and writes it to disk.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt, err := checkPrompt(prompt)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(g.size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("image generation returned no image data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	return writeImage(g.outDir, "openai", data)
}
