package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/interviewcoach/server/internal/agent/model"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// Calibrator observes real token usage next to an estimate so the
// token counter can converge on the backend's tokenizer over time.
type Calibrator interface {
	Count(text string) int
	RecordUsage(estimated, actual int)
}

// ClientConfig carries the Gemini API connection settings.
type ClientConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

// NewClient creates the shared Gemini API client.
func NewClient(ctx context.Context, config ClientConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// Generator adapts a Gemini chat model to the core text-generation
// capability. Completions retry transient failures with exponential
// backoff; streams retry only establishment, never mid-stream.
type Generator struct {
	chat       einomodel.BaseChatModel
	modelName  string
	pricing    model.Pricing
	calibrator Calibrator
}

var _ model.TextGenerator = (*Generator)(nil)

// NewGenerator builds a Generator for one model name on a shared client.
func NewGenerator(ctx context.Context, client *genai.Client, modelName string, maxTokens int, temperature float32) (*Generator, error) {
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       modelName,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", modelName).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model %s: %w", modelName, err)
	}
	return &Generator{
		chat:      chat,
		modelName: modelName,
		pricing:   model.ResolvePricing(modelName),
	}, nil
}

// WithCalibrator attaches a token-usage calibrator. Returns the receiver
// for construction chaining.
func (g *Generator) WithCalibrator(c Calibrator) *Generator {
	g.calibrator = c
	return g
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	return backoff.WithContext(b, ctx)
}

func (g *Generator) callOptions(opts model.GenerateOptions) []einomodel.Option {
	var out []einomodel.Option
	if opts.Temperature > 0 {
		out = append(out, einomodel.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		out = append(out, einomodel.WithMaxTokens(opts.MaxTokens))
	}
	return out
}

// Complete returns the full reply for the given messages.
func (g *Generator) Complete(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.Message, error) {
	var msg *schema.Message
	operation := func() error {
		var err error
		msg, err = g.chat.Generate(ctx, messages, g.callOptions(opts)...)
		if err != nil {
			logx.Warn().Err(err).Str("model", g.modelName).Msg("Generate attempt failed, retrying")
		}
		return err
	}
	if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("generate with %s: %w", g.modelName, err)
	}
	g.recordUsage(messages, msg)
	return msg, nil
}

// CompleteStream returns the reply as a stream of message chunks. Usage
// accounting for streams happens at the consumer, which sees the
// concatenated chunks.
func (g *Generator) CompleteStream(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.StreamReader[*schema.Message], error) {
	var reader *schema.StreamReader[*schema.Message]
	operation := func() error {
		var err error
		reader, err = g.chat.Stream(ctx, messages, g.callOptions(opts)...)
		if err != nil {
			logx.Warn().Err(err).Str("model", g.modelName).Msg("Stream attempt failed, retrying")
		}
		return err
	}
	if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("stream with %s: %w", g.modelName, err)
	}
	return reader, nil
}

func (g *Generator) recordUsage(messages []*schema.Message, msg *schema.Message) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	usage := msg.ResponseMeta.Usage
	inCost, outCost, total := model.ComputeCost(usage, g.pricing)
	logx.Info().
		Str("model", g.modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inCost).
		Float64("output_cost_usd", outCost).
		Float64("total_cost_usd", total).
		Msg("Model usage")

	if g.calibrator != nil && usage.PromptTokens > 0 {
		estimated := 0
		for _, m := range messages {
			if m != nil {
				estimated += g.calibrator.Count(m.Content)
			}
		}
		g.calibrator.RecordUsage(estimated, usage.PromptTokens)
	}
}
