package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
	"github.com/ridgepoint-lending/docresolve/pkg/anthropic"
)

// AnthropicOracle implements Oracle over the Claude Messages API. Calls are
// rate limited and bounded by a per-call wall-clock timeout; a timeout is
// surfaced as a retryable OracleTimeout, never as a fatal error.
type AnthropicOracle struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	limiter *rate.Limiter
}

// NewAnthropicOracle creates the production oracle.
func NewAnthropicOracle(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicOracle {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &AnthropicOracle{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Classify sends one batch window and parses the judgment. Transport-level
// transient failures are retried here; parse failures and timeouts are
// returned to the coordinator, which owns the stricter-retry and
// batch-shrink policy.
func (o *AnthropicOracle) Classify(ctx context.Context, req ClassifyRequest) (*model.ClassificationJudgment, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "oracle: rate limit wait")
	}

	prompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: build prompt")
	}

	callCtx := ctx
	if o.cfg.Timeout() > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout())
		defer cancel()
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "classify")

	resp, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return o.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     o.cfg.Model,
			MaxTokens: o.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(groupingSystemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &resilience.OracleTimeout{Err: err}
		}
		return nil, eris.Wrap(err, "oracle: create message")
	}

	resp.Usage.LogCost(o.cfg.Model, "grouping")

	judgment, err := ParseJudgment(extractText(resp), req)
	if err != nil {
		return nil, err
	}
	return judgment, nil
}

// judgmentWire is the strict response schema required from the oracle.
type judgmentWire struct {
	Clusters []struct {
		MemberIDs     []string `json:"member_ids"`
		GroupType     string   `json:"group_type"`
		Justification string   `json:"justification"`
	} `json:"clusters"`
	Ungrouped []string `json:"ungrouped"`
}

// ParseJudgment validates the oracle's response shape before use. Any
// schema violation is an OracleParseFailure subject to the coordinator's
// retry/shrink policy.
func ParseJudgment(text string, req ClassifyRequest) (*model.ClassificationJudgment, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, &resilience.OracleParseFailure{Detail: "empty response"}
	}

	var wire judgmentWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, &resilience.OracleParseFailure{Detail: "malformed json", Err: err}
	}

	judgment := &model.ClassificationJudgment{
		BatchIndex: req.BatchIndex,
		WindowIDs:  req.WindowIDs,
		Ungrouped:  wire.Ungrouped,
	}

	for _, c := range wire.Clusters {
		gt := model.GroupType(strings.ToLower(strings.TrimSpace(c.GroupType)))
		if !model.IsValidGroupType(gt) {
			return nil, &resilience.OracleParseFailure{
				Detail: "unknown group_type " + c.GroupType,
			}
		}
		if len(c.MemberIDs) < 2 {
			zap.L().Warn("oracle: dropping single-member cluster proposal",
				zap.Strings("member_ids", c.MemberIDs),
			)
			judgment.Ungrouped = append(judgment.Ungrouped, c.MemberIDs...)
			continue
		}
		judgment.Clusters = append(judgment.Clusters, model.VersionCluster{
			GroupType:     gt,
			DocumentIDs:   c.MemberIDs,
			Justification: c.Justification,
			Confidence:    model.ConfidenceNormal,
			Source:        model.SourceSemantic,
		})
	}

	return judgment, nil
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
