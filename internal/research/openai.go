package research

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/cost"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
	"github.com/kcmetrolive/metro-agent/pkg/openai"
)

// OpenAI is the chat-completions backend.
type OpenAI struct {
	opts   []openai.Option
	client openai.Client
	calc   *cost.Calculator
	sink   ImageSink
	cfg    Config
	now    func() time.Time
}

// NewOpenAI creates the OpenAI backend. An empty apiKey is allowed; every
// call then fails with a config error. sink may be nil, in which case images
// keep their provider URL.
func NewOpenAI(apiKey string, calc *cost.Calculator, sink ImageSink, cfg Config, opts ...openai.Option) *OpenAI {
	o := &OpenAI{
		opts:   opts,
		calc:   calc,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	if apiKey != "" {
		o.client = openai.NewClient(apiKey, opts...)
	}
	return o
}

func (o *OpenAI) Research(ctx context.Context, userPrompt string, op prompt.Operation, timeout time.Duration) (*Result, error) {
	if o.client == nil {
		return nil, resilience.NewConfigError("openai api key is not configured")
	}
	system, err := prompt.System(op)
	if err != nil {
		return nil, resilience.NewConfigError(err.Error())
	}

	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	temp, maxTokens := o.cfg.Temperature, o.cfg.MaxTokens
	start := o.now()
	resp, err := o.client.ChatCompletion(callCtx, openai.ChatCompletionRequest{
		Messages: []openai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    &temp,
		MaxTokens:      &maxTokens,
		ResponseFormat: openai.JSONObject,
	})
	duration := o.now().Sub(start)
	if err != nil {
		return nil, o.classify(callCtx, err)
	}

	data, err := decodeContent(resp.Content())
	if err != nil {
		return nil, err
	}

	model := o.client.Model()
	usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	result := &Result{
		Data:     data,
		Usage:    usage,
		Model:    model,
		Duration: duration,
		Cost:     o.calc.LLM(model, usage.InputTokens, usage.OutputTokens),
	}
	zap.L().Info("research: call complete",
		zap.String("backend", "openai"),
		zap.String("operation", string(op)),
		zap.String("model", model),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", result.Cost),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (o *OpenAI) GenerateImage(ctx context.Context, imagePrompt, alt, size string) (*ImageRef, error) {
	if o.client == nil {
		return nil, resilience.NewConfigError("openai api key is not configured")
	}

	callCtx, cancel := withTimeout(ctx, o.cfg.ImageTimeout)
	defer cancel()

	resp, err := o.client.GenerateImage(callCtx, openai.ImageRequest{
		Prompt:         imagePrompt,
		Size:           size,
		Quality:        "standard",
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, o.classify(callCtx, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, resilience.NewMalformedError("image response has no url", "")
	}

	ref := &ImageRef{
		ID:            newImageID(),
		URL:           resp.Data[0].URL,
		AltText:       alt,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
		Cost:          o.calc.Image(o.client.ImageModel()),
	}
	if o.sink == nil {
		return ref, nil
	}

	data, contentType, err := o.client.Download(callCtx, ref.URL)
	if err != nil {
		return nil, o.classify(callCtx, err)
	}
	url, err := o.sink.Upload(callCtx, imagePath(o.cfg.ImagePrefix, o.now(), ref.ID, contentType), data, contentType)
	if err != nil {
		return nil, resilience.NewTransportError(err)
	}
	ref.URL = url
	zap.L().Info("research: image stored", zap.String("id", ref.ID), zap.String("url", url))
	return ref, nil
}

func (o *OpenAI) TestCredential(ctx context.Context, key string) error {
	client := o.client
	if key != "" {
		client = openai.NewClient(key, o.opts...)
	}
	if client == nil {
		return resilience.NewConfigError("openai api key is not configured")
	}

	callCtx, cancel := withTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	temp, maxTokens := 0.0, 50
	_, err := client.ChatCompletion(callCtx, openai.ChatCompletionRequest{
		Messages:    []openai.Message{{Role: "user", Content: ProbeMessage}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return o.classify(callCtx, err)
	}
	return nil
}

func (o *OpenAI) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.NewUpstreamError(apiErr.StatusCode, apiErr.Message)
	}
	var decErr *openai.DecodeError
	if errors.As(err, &decErr) {
		return resilience.NewMalformedError("invalid response envelope", decErr.Body)
	}
	return transportError(ctx, err)
}
