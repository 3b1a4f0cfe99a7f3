package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Defaults for the Hugging Face backend.
const (
	DefaultHuggingFaceModel   = "black-forest-labs/FLUX.1-schnell"
	DefaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/models"
)

// HuggingFaceOptions configures a HuggingFaceGenerator.
type HuggingFaceOptions struct {
	Model         string
	BaseURL       string
	OutputDir     string
	Width         int
	Height        int
	GuidanceScale float64
	Steps         int
	HTTPClient    *http.Client
}

// HuggingFaceGenerator generates images through the Hugging Face Inference API.
type HuggingFaceGenerator struct {
	httpClient *http.Client
	token      string
	endpoint   string
	outDir     string
	params     hfParameters
}

type hfParameters struct {
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

// NewHuggingFaceGenerator creates a generator authenticated with token.
func NewHuggingFaceGenerator(token string, opts HuggingFaceOptions) (*HuggingFaceGenerator, error) {
	if token == "" {
		return nil, fmt.Errorf("Hugging Face token is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultHuggingFaceModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultHuggingFaceBaseURL
	}
	if opts.Width == 0 {
		opts.Width = 1024
	}
	if opts.Height == 0 {
		opts.Height = 1024
	}
	if opts.GuidanceScale == 0 {
		opts.GuidanceScale = 7.5
	}
	if opts.Steps == 0 {
		opts.Steps = 20
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &HuggingFaceGenerator{
		httpClient: opts.HTTPClient,
		token:      token,
		endpoint:   strings.TrimRight(opts.BaseURL, "/") + "/" + opts.Model,
		outDir:     opts.OutputDir,
		params: hfParameters{
			GuidanceScale:     opts.GuidanceScale,
			NumInferenceSteps: opts.Steps,
			Width:             opts.Width,
			Height:            opts.Height,
		},
	}, nil
}

// Generate posts the prompt and writes the returned image bytes.
func (g *HuggingFaceGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt, err := checkPrompt(prompt)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(hfRequest{Inputs: prompt, Parameters: g.params})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image generation failed with status %d: %s", resp.StatusCode, hfErrorMessage(data))
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		return "", fmt.Errorf("image generation returned JSON instead of an image: %s", hfErrorMessage(data))
	}

	return writeImage(g.outDir, "hf", data)
}

func hfErrorMessage(data []byte) string {
	var payload struct {
		Error         string  `json:"error"`
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		if payload.EstimatedTime > 0 {
			return fmt.Sprintf("%s (model loading, retry in ~%.0fs)", payload.Error, payload.EstimatedTime)
		}
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
