package anthropic

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	text := "You extract cause-of-death facts about deceased performers.\nAnswer in JSON."

	blocks := BuildCachedSystemBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, text, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocksEmptyText(t *testing.T) {
	blocks := BuildCachedSystemBlocks("")

	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
}

func TestPrimerRequestWarmsCache(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		System:    BuildCachedSystemBlocks("You extract cause-of-death facts."),
		Messages:  []Message{{Role: "user", Content: "ok"}},
	}

	mc.On("CreateMessage", ctx, req).Return(&MessageResponse{
		ID:         "msg_primer",
		StopReason: "max_tokens",
		Usage: TokenUsage{
			InputTokens:              4,
			OutputTokens:             1,
			CacheCreationInputTokens: 6200,
		},
	}, nil)

	resp, err := PrimerRequest(ctx, mc, req)
	require.NoError(t, err)
	assert.Equal(t, int64(6200), resp.Usage.CacheCreationInputTokens,
		"primer should pay the cache write")
	assert.Zero(t, resp.Usage.CacheReadInputTokens)

	mc.AssertExpectations(t)
}

func TestPrimerRequestError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		System:    BuildCachedSystemBlocks("prompt"),
		Messages:  []Message{{Role: "user", Content: "ok"}},
	}

	mc.On("CreateMessage", ctx, req).Return(nil, eris.New("overloaded"))

	_, err := PrimerRequest(ctx, mc, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primer request")
	assert.Contains(t, err.Error(), "overloaded")

	mc.AssertExpectations(t)
}

func TestSubsequentRequestsHitPrimedCache(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	system := BuildCachedSystemBlocks("You extract cause-of-death facts.")

	primer := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		System:    system,
		Messages:  []Message{{Role: "user", Content: "ok"}},
	}
	mc.On("CreateMessage", ctx, primer).Return(&MessageResponse{
		ID:    "msg_primer",
		Usage: TokenUsage{CacheCreationInputTokens: 6200},
	}, nil)

	lookup := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		System:    system,
		Messages:  []Message{{Role: "user", Content: "Fred Astaire, actor, died 1987"}},
	}
	mc.On("CreateMessage", ctx, lookup).Return(&MessageResponse{
		ID:      "msg_lookup",
		Content: []ContentBlock{{Type: "text", Text: `{"cause_of_death":"pneumonia"}`}},
		Usage:   TokenUsage{CacheReadInputTokens: 6200},
	}, nil)

	warmed, err := PrimerRequest(ctx, mc, primer)
	require.NoError(t, err)
	assert.Equal(t, int64(6200), warmed.Usage.CacheCreationInputTokens)

	resp, err := mc.CreateMessage(ctx, lookup)
	require.NoError(t, err)
	assert.Zero(t, resp.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(6200), resp.Usage.CacheReadInputTokens,
		"second request should read, not rewrite, the cache")

	mc.AssertExpectations(t)
}
