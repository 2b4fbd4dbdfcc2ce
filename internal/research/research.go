// Package research issues one structured-output LLM call per request and
// classifies every failure into the resilience taxonomy.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

// ProbeMessage is the fixed credential probe prompt.
const ProbeMessage = `Test connection. Respond with: {"test": "success"}`

// Client is the research collaborator used by the pipeline.
type Client interface {
	// Research sends prompt under op's system bundle and returns the decoded
	// JSON object. timeout bounds the single call.
	Research(ctx context.Context, prompt string, op prompt.Operation, timeout time.Duration) (*Result, error)
	// GenerateImage creates an image and hands its bytes to the image sink.
	GenerateImage(ctx context.Context, prompt, alt, size string) (*ImageRef, error)
	// TestCredential sends a minimal probe with key, or the configured key
	// when key is empty.
	TestCredential(ctx context.Context, key string) error
}

// ImageSink stores image bytes and returns a public URL.
type ImageSink interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Result is a successful research call.
type Result struct {
	Data     map[string]any `json:"data"`
	Usage    Usage          `json:"usage"`
	Model    string         `json:"model"`
	Duration time.Duration  `json:"duration"`
	Cost     float64        `json:"cost"`
}

// ImageRef points at a stored image.
type ImageRef struct {
	ID            string  `json:"id"`
	URL           string  `json:"url"`
	AltText       string  `json:"alt_text"`
	RevisedPrompt string  `json:"revised_prompt,omitempty"`
	Cost          float64 `json:"cost"`
}

// Config holds per-call generation settings.
type Config struct {
	Temperature  float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	ImageTimeout time.Duration `yaml:"image_timeout" mapstructure:"image_timeout"`
	ImagePrefix  string        `yaml:"image_prefix" mapstructure:"image_prefix"`
}

func (c Config) withDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4000
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 30 * time.Second
	}
	if c.ImageTimeout == 0 {
		c.ImageTimeout = 60 * time.Second
	}
	if c.ImagePrefix == "" {
		c.ImagePrefix = "images"
	}
	return c
}

// decodeContent parses the model's message content as a JSON object. Models
// without a JSON mode sometimes fence their output, so a single ```json
// fence is tolerated.
func decodeContent(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, resilience.NewMalformedError("empty response content", content)
	}
	trimmed = stripFence(trimmed)

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, resilience.NewMalformedError("response content is not a JSON object", content)
	}
	return out, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// transportError classifies a failure that produced no HTTP status.
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return resilience.NewTransportError(fmt.Errorf("request timed out: %w", err))
	}
	return resilience.NewTransportError(err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// imagePath builds a dated object path for an uploaded image.
func imagePath(prefix string, now time.Time, id, contentType string) string {
	ext := "png"
	switch contentType {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, now.UTC().Format("2006/01"), id, ext)
}

func newImageID() string {
	return uuid.NewString()
}
