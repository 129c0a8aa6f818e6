// Package gemini adapts Google's Gemini API to the generation provider port.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Client generates replies with a Gemini model.
type Client struct {
	client *genai.Client
	model  string
}

// Options tweak client construction. BaseURL is for tests and proxies.
type Options struct {
	Model   string
	BaseURL string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: client, model: opts.Model}, nil
}

// Generate sends history plus the new user turn, with the persona as the
// system instruction.
func (c *Client) Generate(ctx context.Context, req ctxpkg.Request) (modelpkg.CompletionResponse, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, toContents(req), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	result := modelpkg.CompletionResponse{}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return result, modelpkg.ErrEmptyResponse
	}
	result.Content = text
	return result, nil
}

func toContents(req ctxpkg.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == ctxpkg.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.User, genai.RoleUser))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
