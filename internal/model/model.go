package model

import (
	"context"
	"errors"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
)

// ErrEmptyResponse marks a backend reply with no usable text.
var ErrEmptyResponse = errors.New("empty model response")

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the generation backend. Implementations must honor ctx
// cancellation and return ErrEmptyResponse instead of an empty Content.
type Provider interface {
	Generate(ctx context.Context, req ctxpkg.Request) (CompletionResponse, error)
}
