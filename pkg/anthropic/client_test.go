package anthropic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

func TestClassifyAPIError_PlainErrorNotTransient(t *testing.T) {
	err := classifyAPIError(fmt.Errorf("invalid_request_error: max_tokens required"))
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestEstimateCost_KnownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := usage.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 18.00, cost, 0.001)
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	// write at 1.25x input, read at 0.1x input
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 500}
	assert.Equal(t, 0.0, usage.EstimateCost("some-other-model"))
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("you are a document classifier")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "you are a document classifier", blocks[0].Text)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}
