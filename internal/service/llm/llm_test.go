package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
)

func TestExtractJSON(t *testing.T) {
	t.Run("BareObject", func(t *testing.T) {
		got, err := ExtractJSON(`{"a": 1}`)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, got)
	})

	t.Run("CodeFence", func(t *testing.T) {
		got, err := ExtractJSON("```json\n{\"a\": 1}\n```")
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, got)
	})

	t.Run("SurroundingProse", func(t *testing.T) {
		got, err := ExtractJSON(`Here is the classification: {"segment": "T"} Hope that helps!`)
		require.NoError(t, err)
		assert.Equal(t, `{"segment": "T"}`, got)
	})

	t.Run("NestedObjects", func(t *testing.T) {
		got, err := ExtractJSON(`{"outer": {"inner": 2}}`)
		require.NoError(t, err)
		assert.Equal(t, `{"outer": {"inner": 2}}`, got)
	})

	t.Run("BracesInsideStrings", func(t *testing.T) {
		got, err := ExtractJSON(`{"reasoning": "uses {braces} and \"quotes\""}`)
		require.NoError(t, err)
		assert.Equal(t, `{"reasoning": "uses {braces} and \"quotes\""}`, got)
	})

	t.Run("NoObject", func(t *testing.T) {
		_, err := ExtractJSON("I cannot classify this.")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeLLMParsingError, apperrors.CodeOf(err))
	})

	t.Run("Unterminated", func(t *testing.T) {
		_, err := ExtractJSON(`{"a": 1`)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeLLMParsingError, apperrors.CodeOf(err))
	})
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		ClassifyModel:     "test-model",
		EnrichModel:       "test-model",
		ClassifyMaxTokens: 256,
		EnrichMaxTokens:   256,
		Timeout:           time.Second,
		MaxConcurrent:     2,
	}
}

func TestClientComplete(t *testing.T) {
	logger := zap.NewNop()
	metrics := observability.NewCollector("curio")

	t.Run("PassesThroughResponse", func(t *testing.T) {
		mock := NewMockProvider().QueueResponse(`{"ok": true}`, 100, 20)
		c := NewClient(mock, testLLMConfig(), logger, metrics)

		resp, err := c.Complete(context.Background(), "classify", Request{
			Model:     "test-model",
			Prompt:    "classify this",
			MaxTokens: 256,
		})
		require.NoError(t, err)
		assert.Equal(t, `{"ok": true}`, resp.Text)
		assert.Equal(t, int64(100), resp.InputTokens)
		assert.Equal(t, int64(20), resp.OutputTokens)

		reqs := mock.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "classify this", reqs[0].Prompt)
	})

	t.Run("PropagatesProviderError", func(t *testing.T) {
		mock := NewMockProvider().QueueError(
			apperrors.RateLimit(apperrors.CodeLLMRateLimited, "slow down").Build())
		c := NewClient(mock, testLLMConfig(), logger, metrics)

		_, err := c.Complete(context.Background(), "classify", Request{Model: "m", Prompt: "p"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeLLMRateLimited, apperrors.CodeOf(err))
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("UnavailableProviderShortCircuits", func(t *testing.T) {
		mock := NewMockProvider()
		mock.SetAvailable(false)
		c := NewClient(mock, testLLMConfig(), logger, metrics)

		_, err := c.Complete(context.Background(), "classify", Request{Model: "m", Prompt: "p"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeLLMNotInitialized, apperrors.CodeOf(err))
	})

	t.Run("RateLimitDoesNotTripBreaker", func(t *testing.T) {
		mock := NewMockProvider()
		for i := 0; i < 10; i++ {
			mock.QueueError(apperrors.RateLimit(apperrors.CodeLLMRateLimited, "throttled").Build())
		}
		c := NewClient(mock, testLLMConfig(), logger, metrics)

		// Ten throttles in a row must still reach the provider; only
		// outages open the circuit.
		for i := 0; i < 10; i++ {
			_, err := c.Complete(context.Background(), "classify", Request{Model: "m", Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeLLMRateLimited, apperrors.CodeOf(err))
		}
		assert.Len(t, mock.Requests(), 10)
	})
}
