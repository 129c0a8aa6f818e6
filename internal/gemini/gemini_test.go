package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

func TestToContents_MapsRoles(t *testing.T) {
	contents := toContents(ctxpkg.Request{
		System:  "sys",
		History: []ctxpkg.Message{ctxpkg.UserTurn("q1"), ctxpkg.AssistantTurn("a1")},
		User:    "q2",
	})

	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)
	assert.Equal(t, "q2", contents[2].Parts[0].Text)
}

func TestResponseText_SkipsThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Привет"},
				{Text: "!"},
			}},
		}},
	}
	assert.Equal(t, "Привет!", responseText(resp))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
	assert.Equal(t, "", responseText(nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), "test-key", Options{Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestGenerate_Success(t *testing.T) {
	var body string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "test-model:generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":" Ответ "}]}}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":3}}`)
	})

	resp, err := c.Generate(context.Background(), ctxpkg.Request{System: "Ты кот.", User: "Кто ты?"})
	require.NoError(t, err)
	assert.Equal(t, "Ответ", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Contains(t, body, "Ты кот.")
	assert.Contains(t, body, "Кто ты?")
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := c.Generate(context.Background(), ctxpkg.Request{System: "s", User: "u"})
	assert.True(t, errors.Is(err, modelpkg.ErrEmptyResponse))
}

func TestGenerate_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`)
	})

	_, err := c.Generate(context.Background(), ctxpkg.Request{System: "s", User: "u"})
	require.Error(t, err)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "", Options{})
	assert.Error(t, err)
}
