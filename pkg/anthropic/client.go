// Package anthropic wraps the Anthropic Messages API for single-turn
// completions with a cacheable instruction block.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client completes one prompt at a time.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Prompt is a single-turn request. Instructions become the system block;
// Input is the one user message. A non-empty CacheTTL ("5m" or "1h") marks
// the instructions as a cache breakpoint.
type Prompt struct {
	Model        string
	MaxTokens    int64
	Instructions string
	CacheTTL     string
	Input        string
}

// Completion is the text answer plus accounting.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage counts tokens billed for one completion.
type TokenUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

type price struct {
	input  float64 // $/MTok
	output float64 // $/MTok
}

var prices = map[string]price{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
}

// EstimateCost returns the USD cost of u under model's list price, or 0 when
// the model is unknown. Cache writes bill at 1.25x input and reads at 0.1x.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := prices[model]
	if !ok {
		return 0
	}
	input := float64(u.InputTokens) + 1.25*float64(u.CacheWriteTokens) + 0.1*float64(u.CacheReadTokens)
	return (input*p.input + float64(u.OutputTokens)*p.output) / 1e6
}

// LogCost records usage for subject at info level.
func (u TokenUsage) LogCost(model, subject string) {
	zap.L().Info("anthropic usage",
		zap.String("model", model),
		zap.String("subject", subject),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

type sdkClient struct {
	api sdk.Client
}

// NewClient returns a Client on the official SDK. opts go to the SDK as-is,
// e.g. option.WithBaseURL in tests.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{api: sdk.NewClient(opts...)}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.Input))},
	}
	if p.Instructions != "" {
		system := sdk.TextBlockParam{Text: p.Instructions}
		if p.CacheTTL != "" {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(p.CacheTTL)
			system.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{system}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}

	var parts []string
	for _, b := range msg.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       strings.Join(parts, "\n"),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}, nil
}
