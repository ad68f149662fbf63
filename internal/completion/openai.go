// ABOUTME: OpenAI-compatible completion client built on openai-go/v3
// ABOUTME: Maps history to chat params and wraps the SSE chunk stream

package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Timeout bounds Complete calls. Streams are bounded only by ctx.
	Timeout time.Duration
	// StreamUsage asks the provider for a trailing usage chunk on streams.
	StreamUsage bool
	HTTPClient  *http.Client
}

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	client  openai.Client
	timeout time.Duration
	usage   bool
}

// NewOpenAIClient creates a client from cfg. An API key is required.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("completion: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		timeout: timeout,
		usage:   cfg.StreamUsage,
	}, nil
}

// Stream starts a streaming completion. Request-level failures (bad key,
// unknown model, unreachable host) are returned here; failures after the
// first chunk surface through Stream.Err.
func (c *OpenAIClient) Stream(ctx context.Context, model string, history []Message) (Stream, error) {
	params, err := buildParams(model, history)
	if err != nil {
		return nil, &Error{Op: "stream", Message: err.Error(), Err: err}
	}
	if c.usage {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, wrapError("stream", err)
	}
	return &openAIStream{stream: stream}, nil
}

// Complete performs a blocking completion.
func (c *OpenAIClient) Complete(ctx context.Context, model string, history []Message) (*Result, error) {
	params, err := buildParams(model, history)
	if err != nil {
		return nil, &Error{Op: "complete", Message: err.Error(), Err: err}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithRequestTimeout(c.timeout))
	if err != nil {
		return nil, wrapError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Op: "complete", Message: "no completion choices returned"}
	}

	return &Result{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func buildParams(model string, history []Message) (openai.ChatCompletionNewParams, error) {
	if strings.TrimSpace(model) == "" {
		return openai.ChatCompletionNewParams{}, errors.New("model is required")
	}
	if len(history) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		param, err := toMessageParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, param)
	}

	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}, nil
}

func toMessageParam(msg Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case "system":
		return openai.SystemMessage(msg.Content), nil
	case "user":
		return openai.UserMessage(msg.Content), nil
	case "assistant":
		return openai.AssistantMessage(msg.Content), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", msg.Role)
	}
}

func wrapError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Op: op, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	usage  Usage
}

func (s *openAIStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	// The usage chunk arrives last with an empty choices list.
	if u := s.stream.Current().Usage; u.TotalTokens > 0 {
		s.usage = Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
		}
	}
	return true
}

func (s *openAIStream) Delta() string {
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func (s *openAIStream) Usage() Usage {
	return s.usage
}

func (s *openAIStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return wrapError("stream", err)
	}
	return nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// Ensure interface compliance
var _ Client = (*OpenAIClient)(nil)
