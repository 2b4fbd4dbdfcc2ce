package research

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/cost"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
	"github.com/kcmetrolive/metro-agent/pkg/anthropic"
)

// Anthropic is the Messages API backend. It has no image support.
type Anthropic struct {
	opts   []anthropic.Option
	client anthropic.Client
	calc   *cost.Calculator
	cfg    Config
	now    func() time.Time
}

// NewAnthropic creates the Anthropic backend. An empty apiKey is allowed;
// every call then fails with a config error.
func NewAnthropic(apiKey string, calc *cost.Calculator, cfg Config, opts ...anthropic.Option) *Anthropic {
	a := &Anthropic{
		opts: opts,
		calc: calc,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	if apiKey != "" {
		a.client = anthropic.NewClient(apiKey, opts...)
	}
	return a
}

func (a *Anthropic) Research(ctx context.Context, userPrompt string, op prompt.Operation, timeout time.Duration) (*Result, error) {
	if a.client == nil {
		return nil, resilience.NewConfigError("anthropic api key is not configured")
	}
	system, err := prompt.System(op)
	if err != nil {
		return nil, resilience.NewConfigError(err.Error())
	}

	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	temp := a.cfg.Temperature
	start := a.now()
	resp, err := a.client.CreateMessage(callCtx, anthropic.MessageRequest{
		MaxTokens:   int64(a.cfg.MaxTokens),
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt}},
		Temperature: &temp,
	})
	duration := a.now().Sub(start)
	if err != nil {
		return nil, a.classify(callCtx, err)
	}

	data, err := decodeContent(resp.Text())
	if err != nil {
		return nil, err
	}

	model := a.client.Model()
	usage := Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)}
	result := &Result{
		Data:     data,
		Usage:    usage,
		Model:    model,
		Duration: duration,
		Cost:     a.calc.LLM(model, usage.InputTokens, usage.OutputTokens),
	}
	zap.L().Info("research: call complete",
		zap.String("backend", "anthropic"),
		zap.String("operation", string(op)),
		zap.String("model", model),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", result.Cost),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (a *Anthropic) GenerateImage(context.Context, string, string, string) (*ImageRef, error) {
	return nil, resilience.NewConfigError("image generation is not supported by the anthropic backend")
}

func (a *Anthropic) TestCredential(ctx context.Context, key string) error {
	client := a.client
	if key != "" {
		client = anthropic.NewClient(key, a.opts...)
	}
	if client == nil {
		return resilience.NewConfigError("anthropic api key is not configured")
	}

	callCtx, cancel := withTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	temp := 0.0
	_, err := client.CreateMessage(callCtx, anthropic.MessageRequest{
		MaxTokens:   50,
		Messages:    []anthropic.Message{{Role: "user", Content: ProbeMessage}},
		Temperature: &temp,
	})
	if err != nil {
		return a.classify(callCtx, err)
	}
	return nil
}

func (a *Anthropic) classify(ctx context.Context, err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return resilience.NewUpstreamError(apiErr.StatusCode, apiErr.Message)
	}
	return transportError(ctx, err)
}
