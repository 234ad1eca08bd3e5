package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// cacheTTL is the 1-hour extended prompt-cache TTL. Batch runs can sit in
// the queue longer than the default 5 minutes, so the longer window keeps
// the system prompt warm for every item.
const cacheTTL = "1h"

// BuildCachedSystemBlocks wraps a system prompt in a single block carrying
// a cache breakpoint. Every enrichment request shares one system prompt, so
// after the first request writes the cache the rest read it at a discount.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: cacheTTL},
		},
	}
}

// PrimerRequest issues one sequential message to write the prompt cache
// before a batch is submitted. Callers discard the response; the point is
// the cache-creation side effect.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
