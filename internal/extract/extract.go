// Package extract wraps the model-backed extraction capability behind a
// narrow interface. All calls from concurrent stages funnel through one shared
// rate limiter; callers block for a permit rather than being rejected.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

// DefaultRate is the conservative default call rate, sized for a free-tier
// budget of roughly 15 requests per minute.
const DefaultRate = rate.Limit(0.25)

// Request describes one extraction call.
type Request struct {
	Stage       string
	System      []anthropic.SystemBlock
	Prompt      string
	Temperature *float64
}

// Result carries the parsed JSON payload and token accounting for one call.
type Result struct {
	JSON  json.RawMessage
	Usage model.TokenUsage
}

// Capability is the extraction collaborator used by stage runners and the
// enricher. Failures are classified: transient errors are retryable,
// structural errors (malformed response shape) are not.
type Capability interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// Anthropic implements Capability on the Anthropic messages API.
type Anthropic struct {
	client    anthropic.Client
	limiter   *rate.Limiter
	model     string
	maxTokens int64
}

var _ Capability = (*Anthropic)(nil)

// NewAnthropic builds the capability. limiter may be nil, in which case the
// conservative default rate applies.
func NewAnthropic(client anthropic.Client, limiter *rate.Limiter, modelID string, maxTokens int64) *Anthropic {
	if limiter == nil {
		limiter = rate.NewLimiter(DefaultRate, 1)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{
		client:    client,
		limiter:   limiter,
		model:     modelID,
		maxTokens: maxTokens,
	}
}

// Extract issues one rate-limited model call and returns the cleaned JSON
// payload. A response that yields no parseable JSON is a structural error.
func (a *Anthropic) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: limiter wait")
	}

	start := time.Now()
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classify(err)
	}

	usage := model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	resp.Usage.LogCost(a.model, req.Stage)

	cleaned := CleanJSON(resp.Text())
	if !json.Valid([]byte(cleaned)) {
		zap.L().Warn("extraction returned unparseable payload",
			zap.String("stage", req.Stage),
			zap.Int("response_chars", len(resp.Text())),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, resilience.NewStructuralError(eris.Errorf("extract: %s response is not valid JSON", req.Stage))
	}

	zap.L().Debug("extraction call complete",
		zap.String("stage", req.Stage),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
	)
	return &Result{JSON: json.RawMessage(cleaned), Usage: usage}, nil
}

// classify maps API failures onto the retry taxonomy: rate limits and server
// errors are transient, everything else fatal.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return eris.Wrap(err, "extract: create message")
}
