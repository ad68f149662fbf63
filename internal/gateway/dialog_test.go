// ABOUTME: Tests for the dialog stream and completion handlers
// ABOUTME: Covers validation, SSE framing, status mapping, duplicate sends, and rate limits

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dialog-relay/internal/completion"
	"github.com/2389/dialog-relay/internal/config"
	"github.com/2389/dialog-relay/internal/sse"
)

const helloBody = `{"messages":[{"role":"user","content":"Hello"}]}`

func readFrames(t *testing.T, body io.Reader) []sse.Frame {
	t.Helper()
	dec := sse.NewDecoder(body)
	var frames []sse.Frame
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func (e *testEnv) doWithKey(t *testing.T, path, userID, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	req.Header.Set(IdempotencyHeader, key)
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDialogStream_NewConversation(t *testing.T) {
	env := newTestGateway(t, &completion.Scripted{Deltas: []string{"Hi", " there", "\nsecond line"}}, nil)

	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/stream", "user-1", helloBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 4)
	assert.Equal(t, sse.Frame{Data: "Hi"}, frames[0])
	assert.Equal(t, sse.Frame{Data: " there"}, frames[1])
	assert.Equal(t, sse.Frame{Data: "\nsecond line"}, frames[2])
	assert.Equal(t, sse.EventConversationComplete, frames[3].Event)

	var done sse.CompletePayload
	require.NoError(t, json.Unmarshal([]byte(frames[3].Data), &done))
	require.NotEmpty(t, done.ConversationID)

	conv, err := env.store.GetConversation(t.Context(), done.ConversationID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv.Title)
	assert.Equal(t, "test-model", conv.Model)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hi there\nsecond line", conv.Messages[1].Content)
}

func TestDialogStream_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"empty body", "", "Request body is required"},
		{"bad json", "{nope", "Invalid JSON body"},
		{"no messages", `{"messages":[]}`, "messages must be a non-empty array"},
		{"missing messages", `{}`, "messages must be a non-empty array"},
		{"bad role", `{"messages":[{"role":"robot","content":"x"}]}`, "message 0: role must be user, assistant or system"},
		{"empty content", `{"messages":[{"role":"user","content":"   "}]}`, "message 0: content must not be empty"},
		{"empty parts", `{"messages":[{"role":"user","content":[]}]}`, "message 0: content must not be empty"},
		{"last not user", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`, "the last message must be from the user"},
	}

	for _, path := range []string{"/dialog/stream", "/dialog/completion"} {
		for _, tt := range tests {
			t.Run(path+"/"+tt.name, func(t *testing.T) {
				env := newTestGateway(t, nil, nil)

				rec := env.do(t, http.MethodPost, APIPrefix+path, "user-1", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				env1 := decodeEnvelope(t, rec)
				assert.Equal(t, "error", env1.Status)
				assert.Equal(t, tt.wantMsg, env1.Message)
				assert.Empty(t, env.client.Calls(), "provider must not be called")
				assert.Zero(t, env.store.ConversationCount())
			})
		}
	}
}

func TestDialogStream_PartsContentIsNormalized(t *testing.T) {
	env := newTestGateway(t, nil, nil)

	body := `{"messages":[{"role":"user","content":[{"type":"text","text":"Look"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"here"}]}]}`
	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/stream", "user-1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	calls := env.client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Look\nhere", calls[0].History[0].Content)
}

func TestDialogStream_ForeignConversationIsErrorFrame(t *testing.T) {
	env := newTestGateway(t, nil, nil)
	conv := seedConversation(t, env.store, "owner", "private")

	body := `{"conversationId":"` + conv.ID + `","messages":[{"role":"user","content":"let me in"}]}`
	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/stream", "intruder", body)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 1)
	assert.Equal(t, sse.EventError, frames[0].Event)
	assert.JSONEq(t, `{"message":"Conversation not found or access denied"}`, frames[0].Data)
	assert.Empty(t, env.client.Calls())
}

func TestDialogStream_ProviderFailure(t *testing.T) {
	env := newTestGateway(t, &completion.Scripted{
		Deltas:    []string{"partial"},
		StreamErr: &completion.Error{Op: "stream", Message: "model overloaded"},
		FailAfter: 1,
	}, nil)

	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/stream", "user-1", helloBody)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 2)
	assert.Equal(t, sse.Frame{Data: "partial"}, frames[0])
	assert.Equal(t, sse.EventError, frames[1].Event)
	assert.JSONEq(t, `{"message":"model overloaded"}`, frames[1].Data)
	assert.Zero(t, env.store.ConversationCount())
}

func TestDialogCompletion_Success(t *testing.T) {
	env := newTestGateway(t, &completion.Scripted{Deltas: []string{"All ", "done"}}, nil)

	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-1", helloBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var res completionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "All done", res.Text)
	require.NotEmpty(t, res.ConversationID)

	msgs, err := env.store.GetMessages(t.Context(), res.ConversationID, "user-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestDialogCompletion_StatusMapping(t *testing.T) {
	t.Run("provider failure is 500", func(t *testing.T) {
		env := newTestGateway(t, &completion.Scripted{
			StartErr: &completion.Error{Op: "complete", StatusCode: 502, Message: "bad gateway upstream"},
		}, nil)

		rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-1", helloBody)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"bad gateway upstream"}`, rec.Body.String())
	})

	t.Run("save failure is 500 with conversation id", func(t *testing.T) {
		env := newTestGateway(t, nil, nil)
		conv := seedConversation(t, env.store, "user-1", "chat")
		env.store.SaveTurnErr = errors.New("disk full")

		body := `{"conversationId":"` + conv.ID + `","messages":[{"role":"user","content":"again"}]}`
		rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-1", body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var res completionError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "Failed to save conversation", res.Error)
		assert.Equal(t, conv.ID, res.ConversationID)
		assert.NotContains(t, rec.Body.String(), "disk full")
	})

	t.Run("foreign conversation is 404", func(t *testing.T) {
		env := newTestGateway(t, nil, nil)
		conv := seedConversation(t, env.store, "owner", "private")

		body := `{"conversationId":"` + conv.ID + `","messages":[{"role":"user","content":"hi"}]}`
		rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "intruder", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDialog_DuplicateIdempotencyKey(t *testing.T) {
	env := newTestGateway(t, nil, nil)

	rec := env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "key-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "key-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Duplicate request", decodeEnvelope(t, rec).Message)

	// Keys are scoped per user.
	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "user-2", helloBody, "key-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, env.client.Calls(), 2)
}

func TestDialog_FailedCompletionReleasesKey(t *testing.T) {
	scripted := &completion.Scripted{StartErr: &completion.Error{Op: "complete", Message: "try later"}}
	env := newTestGateway(t, scripted, nil)

	rec := env.doWithKey(t, APIPrefix+"/dialog/completion", "user-1", helloBody, "retry-me")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	scripted.StartErr = nil
	scripted.Deltas = []string{"ok"}
	rec = env.doWithKey(t, APIPrefix+"/dialog/completion", "user-1", helloBody, "retry-me")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.doWithKey(t, APIPrefix+"/dialog/completion", "user-1", helloBody, "retry-me")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDialogStream_EarlyFailureReleasesKey(t *testing.T) {
	scripted := &completion.Scripted{StartErr: &completion.Error{Op: "stream", Message: "try later"}}
	env := newTestGateway(t, scripted, nil)

	rec := env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "stream-retry")
	require.Equal(t, http.StatusOK, rec.Code)
	frames := readFrames(t, rec.Body)
	require.Len(t, frames, 1)
	assert.Equal(t, sse.EventError, frames[0].Event)

	scripted.StartErr = nil
	scripted.Deltas = []string{"ok"}
	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "stream-retry")
	require.Equal(t, http.StatusOK, rec.Code)
	frames = readFrames(t, rec.Body)
	require.Len(t, frames, 2)
	assert.Equal(t, sse.Frame{Data: "ok"}, frames[0])
	assert.Equal(t, sse.EventConversationComplete, frames[1].Event)

	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "stream-retry")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDialogStream_ForeignConversationReleasesKey(t *testing.T) {
	env := newTestGateway(t, nil, nil)
	conv := seedConversation(t, env.store, "owner", "private")

	foreign := `{"conversationId":"` + conv.ID + `","messages":[{"role":"user","content":"hi"}]}`
	rec := env.doWithKey(t, APIPrefix+"/dialog/stream", "intruder", foreign, "same-key")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "intruder", helloBody, "same-key")
	require.Equal(t, http.StatusOK, rec.Code)
	frames := readFrames(t, rec.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, sse.EventConversationComplete, frames[len(frames)-1].Event)
}

func TestDialogStream_MidStreamFailureKeepsKey(t *testing.T) {
	env := newTestGateway(t, &completion.Scripted{
		Deltas:    []string{"partial"},
		StreamErr: &completion.Error{Op: "stream", Message: "model overloaded"},
		FailAfter: 1,
	}, nil)

	rec := env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "delivered")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, "delivered")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDialog_IdempotencyKeyTooLong(t *testing.T) {
	env := newTestGateway(t, nil, nil)

	rec := env.doWithKey(t, APIPrefix+"/dialog/stream", "user-1", helloBody, strings.Repeat("k", 101))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.client.Calls())
}

func TestDialog_RateLimited(t *testing.T) {
	env := newTestGateway(t, nil, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-1", helloBody)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-1", helloBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Another user has their own bucket.
	rec = env.do(t, http.MethodPost, APIPrefix+"/dialog/completion", "user-2", helloBody)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Conversation routes are not limited.
	rec = env.do(t, http.MethodGet, APIPrefix+"/conversations", "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDialog_RequiresAuth(t *testing.T) {
	env := newTestGateway(t, nil, nil)

	rec := env.do(t, http.MethodPost, APIPrefix+"/dialog/stream", "", helloBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.client.Calls())
}
