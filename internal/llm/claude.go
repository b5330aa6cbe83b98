// Package llm turns guidance document text into structured regulatory
// features with the Anthropic API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 2 * time.Minute
)

// Config holds the Anthropic client settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ExtractionRequest carries one document into the model: its metadata plus
// the text pulled from the stored PDF.
type ExtractionRequest struct {
	Title          string
	DocumentURL    string
	Organization   string
	IssueDate      string
	Topic          string
	GuidanceStatus string
	Text           string
}

// messenger is the slice of the Anthropic client the extractor needs.
// Tests script it.
type messenger interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Extractor asks Claude for a DeviceFeatures JSON document and validates
// the decoded result.
type Extractor struct {
	cfg      Config
	messages messenger
	validate *validator.Validate
	logger   *zap.Logger
}

// New builds an Extractor. The API key is required.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Extractor{
		cfg:      cfg,
		messages: &client.Messages,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// newWithMessenger is the test seam.
func newWithMessenger(cfg Config, m messenger, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, messages: m, validate: validator.New(), logger: logger}
}

// Extract sends one document to the model and decodes the JSON reply.
func (e *Extractor) Extract(ctx context.Context, req ExtractionRequest) (DeviceFeatures, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.cfg.Model),
		MaxTokens: int64(e.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
		},
		System: []anthropic.TextBlockParam{{Text: systemPrompt}},
	}
	if e.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(e.cfg.Temperature)
	}

	start := time.Now()
	resp, err := e.messages.New(ctx, params)
	if err != nil {
		return DeviceFeatures{}, fmt.Errorf("anthropic call: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	raw := b.String()
	if strings.TrimSpace(raw) == "" {
		return DeviceFeatures{}, fmt.Errorf("empty model response")
	}

	features, err := decodeFeatures(raw)
	if err != nil {
		return DeviceFeatures{}, err
	}
	if err := e.validate.Struct(features); err != nil {
		return DeviceFeatures{}, fmt.Errorf("model response failed validation: %w", err)
	}

	e.logger.Debug("features extracted",
		zap.String("title", req.Title),
		zap.Float64("confidence", features.ConfidenceScore),
		zap.Duration("duration", time.Since(start)))
	return features, nil
}

// decodeFeatures parses the model output, tolerating markdown code fences
// around the JSON body.
func decodeFeatures(raw string) (DeviceFeatures, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = body[:idx]
		}
		body = strings.TrimSpace(body)
	}

	var features DeviceFeatures
	if err := json.Unmarshal([]byte(body), &features); err != nil {
		return DeviceFeatures{}, fmt.Errorf("decode model response: %w", err)
	}
	return features, nil
}

const systemPrompt = `You are an expert FDA regulatory analyst specializing in medical device regulations.
Your task is to extract structured information from FDA guidance documents related to medical devices.

You will be provided with document metadata and the full text extracted from the PDF.

Extract the regulatory features and return them as a single JSON object with these fields:
device_classification, product_code, device_type, device_category, intended_use,
regulatory_pathway, premarket_requirements, standards_referenced, testing_requirements,
performance_criteria, quality_system_requirements, labeling_requirements,
post_market_requirements, submission_requirements, timeline_information, fee_information,
risk_classification, contraindications, confidence_score, extraction_notes.

Guidelines:
1. Only extract information that is explicitly mentioned in the document.
2. Use exact terminology from the document when possible.
3. For list fields, extract every relevant item mentioned.
4. Assign confidence_score between 0 and 1 based on how clear and explicit the information is.
5. If information is unclear or not present, omit the field rather than guessing.

Respond with the JSON object only.`

func userPrompt(req ExtractionRequest) string {
	var b strings.Builder
	b.WriteString("Extract medical device regulatory features from the following FDA guidance document.\n\n")
	b.WriteString("Document metadata:\n")
	fmt.Fprintf(&b, "- Title: %s\n", orNA(req.Title))
	fmt.Fprintf(&b, "- URL: %s\n", orNA(req.DocumentURL))
	fmt.Fprintf(&b, "- FDA Organization: %s\n", orNA(req.Organization))
	fmt.Fprintf(&b, "- Issue Date: %s\n", orNA(req.IssueDate))
	fmt.Fprintf(&b, "- Topic: %s\n", orNA(req.Topic))
	fmt.Fprintf(&b, "- Guidance Status: %s\n", orNA(req.GuidanceStatus))
	b.WriteString("\nDocument content:\n")
	b.WriteString(req.Text)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
