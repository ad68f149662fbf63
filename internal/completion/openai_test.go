// ABOUTME: Tests for the openai-go backed completion client
// ABOUTME: Fakes the provider with a RoundTripper returning JSON and SSE bodies

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newHTTPResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	resp := &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	return resp
}

func newJSONResponse(t *testing.T, req *http.Request, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return newHTTPResponse(req, status, "application/json", data)
}

func sseBody(t *testing.T, chunks ...map[string]any) []byte {
	t.Helper()
	var b strings.Builder
	for _, c := range chunks {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		b.WriteString("data: ")
		b.Write(data)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return []byte(b.String())
}

func chunk(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "test-model",
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         map[string]any{"content": content},
				"finish_reason": nil,
			},
		},
	}
}

func newTestClient(t *testing.T, rt roundTripperFunc, usage bool) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:      "test-key",
		BaseURL:     "https://provider.test/v1",
		StreamUsage: usage,
		HTTPClient:  &http.Client{Transport: rt},
	})
	require.NoError(t, err)
	return c
}

var history = []Message{
	{Role: "system", Content: "be brief"},
	{Role: "user", Content: "Hello"},
	{Role: "assistant", Content: "Hi"},
	{Role: "user", Content: "How are you?"},
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{APIKey: "  "})
	assert.Error(t, err)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
		_ = req.Body.Close()

		return newJSONResponse(t, req, http.StatusOK, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "Fine, thanks."},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		}), nil
	}, false)

	res, err := c.Complete(context.Background(), "test-model", history)
	require.NoError(t, err)

	assert.Equal(t, "Fine, thanks.", res.Text)
	assert.Equal(t, "test-model", res.Model)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4}, res.Usage)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotPayload["model"])

	msgs, ok := gotPayload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4, "the whole history is forwarded")
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAIClient_Complete_NoChoices(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newJSONResponse(t, req, http.StatusOK, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []any{},
		}), nil
	}, false)

	_, err := c.Complete(context.Background(), "m", history)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "no completion choices returned", cerr.Message)
}

func TestOpenAIClient_Complete_ProviderError(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return newJSONResponse(t, req, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{
				"message": "Incorrect API key provided",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		}), nil
	}, false)

	_, err := c.Complete(context.Background(), "m", history)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "complete", cerr.Op)
	assert.Equal(t, http.StatusUnauthorized, cerr.StatusCode)
	assert.NotEmpty(t, cerr.ProviderMessage())
	assert.Equal(t, 1, calls, "no retries")
}

func TestOpenAIClient_Complete_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, boom
	}, false)

	_, err := c.Complete(context.Background(), "m", history)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Zero(t, cerr.StatusCode)
	assert.ErrorIs(t, err, boom)
}

func TestOpenAIClient_Stream(t *testing.T) {
	var gotPayload map[string]any

	usageChunk := map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 1, "model": "test-model",
		"choices": []any{},
		"usage":   map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
	}

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
		_ = req.Body.Close()
		body := sseBody(t, chunk("Hel"), chunk(""), chunk("lo"), chunk(" world"), usageChunk)
		return newHTTPResponse(req, http.StatusOK, "text/event-stream", body), nil
	}, true)

	stream, err := c.Stream(context.Background(), "test-model", history)
	require.NoError(t, err)
	defer stream.Close()

	var deltas []string
	for stream.Next() {
		if d := stream.Delta(); d != "" {
			deltas = append(deltas, d)
		}
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, []string{"Hel", "lo", " world"}, deltas)
	assert.Equal(t, Usage{PromptTokens: 7, CompletionTokens: 3}, stream.Usage())

	assert.Equal(t, true, gotPayload["stream"])
	opts, ok := gotPayload["stream_options"].(map[string]any)
	require.True(t, ok, "usage requested on stream")
	assert.Equal(t, true, opts["include_usage"])
}

func TestOpenAIClient_Stream_WithoutUsageOption(t *testing.T) {
	var gotPayload map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
		return newHTTPResponse(req, http.StatusOK, "text/event-stream", sseBody(t, chunk("x"))), nil
	}, false)

	stream, err := c.Stream(context.Background(), "m", history)
	require.NoError(t, err)
	for stream.Next() {
	}
	require.NoError(t, stream.Err())
	assert.NoError(t, stream.Close())

	_, present := gotPayload["stream_options"]
	assert.False(t, present)
	assert.Equal(t, Usage{}, stream.Usage())
}

func TestOpenAIClient_Stream_ZeroDeltas(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newHTTPResponse(req, http.StatusOK, "text/event-stream", []byte("data: [DONE]\n\n")), nil
	}, false)

	stream, err := c.Stream(context.Background(), "m", history)
	require.NoError(t, err)
	defer stream.Close()

	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())
}

func TestOpenAIClient_Stream_ProviderErrorAtStart(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newJSONResponse(t, req, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": "The model does not exist", "type": "invalid_request_error"},
		}), nil
	}, false)

	_, err := c.Stream(context.Background(), "missing-model", history)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "stream", cerr.Op)
	assert.Equal(t, http.StatusNotFound, cerr.StatusCode)
}

func TestOpenAIClient_RejectsUnknownRole(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}, false)

	_, err := c.Stream(context.Background(), "m", []Message{{Role: "tool", Content: "x"}})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "unsupported role")

	_, err = c.Complete(context.Background(), "", history)
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "model is required")
}

func TestError_Message(t *testing.T) {
	withStatus := &Error{Op: "stream", StatusCode: 503, Message: "overloaded"}
	assert.Equal(t, "completion stream: provider returned 503: overloaded", withStatus.Error())

	bare := &Error{Op: "complete", StatusCode: 502}
	assert.Equal(t, "Bad Gateway", bare.ProviderMessage())

	assert.Equal(t, "completion failed", (&Error{Op: "complete"}).ProviderMessage())
}
