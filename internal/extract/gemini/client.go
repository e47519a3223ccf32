// Package gemini implements the extraction service on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/extract"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config controls model selection and generation parameters.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

type generator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client implements catalog.Extractor with the Gemini generate-content API.
type Client struct {
	models generator
	cfg    Config
	logger *zap.Logger
}

// New connects to the Gemini API.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithGenerator(client.Models, cfg, logger), nil
}

func newWithGenerator(models generator, cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{models: models, cfg: cfg, logger: logger.Named("gemini")}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Extract sends the prompt for request and returns the raw answer text.
func (c *Client) Extract(ctx context.Context, request catalog.ExtractRequest) (string, error) {
	prompt := extract.BuildPrompt(request.Text, request.URL, request.Schema)
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.cfg.Temperature),
	}
	if request.SearchEnabled {
		genCfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini returned no response")
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty answer")
	}
	c.logger.Debug("extraction answer received",
		zap.String("url", request.URL),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("answer_chars", len(text)),
	)
	return text, nil
}
