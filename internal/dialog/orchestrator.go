// ABOUTME: Dialog orchestrator: resolves the conversation, drives the completion client,
// ABOUTME: relays deltas on a channel, and persists the finished turn exactly once

package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/dialog-relay/internal/completion"
	"github.com/2389/dialog-relay/internal/message"
	"github.com/2389/dialog-relay/internal/store"
)

const (
	defaultPersistTimeout = 5 * time.Second
	eventBufferSize       = 16
)

// Options tunes an Orchestrator. Zero values fall back to defaults.
type Options struct {
	// DefaultModel is used when neither the request nor the conversation names one.
	DefaultModel string
	// TitleLength bounds titles derived from the first user message.
	TitleLength int
	// PersistTimeout bounds the final save, which runs detached from the
	// request so a disconnect after end-of-stream still records the turn.
	PersistTimeout time.Duration
	// Notifier, when set, is told about every persisted turn.
	Notifier Notifier
}

// Orchestrator runs dialog turns. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	store  store.Store
	client completion.Client
	logger *slog.Logger
	opts   Options
}

// New creates an Orchestrator.
func New(st store.Store, client completion.Client, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = store.DefaultModel
	}
	if opts.TitleLength <= 0 {
		opts.TitleLength = message.DefaultTitleLength
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		store:  st,
		client: client,
		logger: logger.With("component", "dialog"),
		opts:   opts,
	}
}

// Request is one inbound user turn.
type Request struct {
	UserID         string
	ConversationID string
	Model          string
	Messages       []message.Message
}

// Result is the outcome of Complete.
type Result struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text,omitempty"`
	Error          string `json:"error,omitempty"`
	Err            error  `json:"-"`
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// plan is a validated request with its conversation context resolved.
type plan struct {
	req     Request
	model   string
	title   string
	history []completion.Message
	user    store.NewMessage
}

// Stream runs a streaming turn. The returned channel carries the events
// described on Kind and is closed when the invocation ends.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, eventBufferSize)
	go o.runStream(ctx, req, out)
	return out
}

func (o *Orchestrator) runStream(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	logger := o.logger.With("user_id", req.UserID, "conversation_id", req.ConversationID, "op", "stream")

	p, err := o.prepare(ctx, req)
	if err != nil {
		o.fail(ctx, logger, out, req.ConversationID, err)
		return
	}
	logger = logger.With("model", p.model)

	stream, err := o.client.Stream(ctx, p.model, p.history)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("client went away before the stream started")
			return
		}
		o.fail(ctx, logger, out, req.ConversationID, err)
		return
	}
	defer stream.Close()

	var reply strings.Builder
	deltas := 0
	for stream.Next() {
		// The stored reply must equal what the event stream can carry.
		delta := message.NormalizeNewlines(stream.Delta())
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		deltas++
		if !send(ctx, out, Event{Kind: EventDelta, Delta: delta}) {
			logger.Info("client went away mid-stream, discarding partial reply", "deltas", deltas)
			return
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			logger.Info("client went away mid-stream, discarding partial reply", "deltas", deltas)
			return
		}
		o.fail(ctx, logger, out, req.ConversationID, err)
		return
	}

	text := reply.String()
	saved, err := o.persist(ctx, p, text, stream.Usage())
	if err != nil {
		o.fail(ctx, logger, out, req.ConversationID, err)
		return
	}

	logger.Info("dialog completed",
		"conversation_id", saved.ConversationID,
		"created", saved.Created,
		"deltas", deltas,
		"reply_length", len(text))
	send(ctx, out, Event{Kind: EventComplete, ConversationID: saved.ConversationID, Text: text})
}

// Complete runs a non-streaming turn.
func (o *Orchestrator) Complete(ctx context.Context, req Request) Result {
	logger := o.logger.With("user_id", req.UserID, "conversation_id", req.ConversationID, "op", "complete")

	failed := func(err error) Result {
		logFailure(logger, err)
		return Result{
			Status:         StatusError,
			ConversationID: req.ConversationID,
			Error:          PublicMessage(err),
			Err:            err,
		}
	}

	p, err := o.prepare(ctx, req)
	if err != nil {
		return failed(err)
	}

	res, err := o.client.Complete(ctx, p.model, p.history)
	if err != nil {
		return failed(err)
	}

	saved, err := o.persist(ctx, p, res.Text, res.Usage)
	if err != nil {
		return failed(err)
	}

	logger.Info("completion finished",
		"conversation_id", saved.ConversationID,
		"created", saved.Created,
		"model", p.model,
		"reply_length", len(res.Text))
	return Result{Status: StatusSuccess, ConversationID: saved.ConversationID, Text: res.Text}
}

// prepare validates the request and resolves model, title and history.
// No network call is made and nothing is written.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*plan, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUnauthorized
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}

	history := make([]completion.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: message %d has invalid role %q", ErrInvalidRequest, i, m.Role)
		}
		history = append(history, completion.Message{Role: string(m.Role), Content: m.Content.Text()})
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != message.RoleUser {
		return nil, fmt.Errorf("%w: the last message must be from the user", ErrInvalidRequest)
	}

	p := &plan{
		req:     req,
		model:   strings.TrimSpace(req.Model),
		history: history,
		user:    store.NewMessage{Role: store.RoleUser, Content: last.Content.Text()},
	}

	if req.ConversationID != "" {
		conv, err := o.conversationForUser(ctx, req.ConversationID, req.UserID)
		if err != nil {
			return nil, err
		}
		if p.model == "" {
			p.model = conv.Model
		}
	} else {
		p.title = message.Title(message.FirstUserText(req.Messages), o.opts.TitleLength)
	}

	if p.model == "" {
		p.model = o.opts.DefaultModel
	}
	return p, nil
}

func (o *Orchestrator) conversationForUser(ctx context.Context, id, userID string) (*store.Conversation, error) {
	conv, err := o.store.GetConversation(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// persist saves the turn on a context detached from the request.
func (o *Orchestrator) persist(ctx context.Context, p *plan, reply string, usage completion.Usage) (*store.SavedTurn, error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
	defer cancel()

	assistant := store.NewMessage{Role: store.RoleAssistant, Content: reply}
	if usage.CompletionTokens > 0 {
		tokens := usage.CompletionTokens
		assistant.Tokens = &tokens
	}

	saved, err := o.store.SaveTurn(saveCtx, store.Turn{
		UserID:         p.req.UserID,
		ConversationID: p.req.ConversationID,
		Title:          p.title,
		Model:          p.model,
		User:           p.user,
		Assistant:      assistant,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("saving turn: %w", err)
	}

	if o.opts.Notifier != nil {
		reason := ReasonTurn
		if saved.Created {
			reason = ReasonCreated
		}
		o.opts.Notifier.Publish(p.req.UserID, Notice{ConversationID: saved.ConversationID, Reason: reason})
	}
	return saved, nil
}

// fail emits the error and the terminal completion that always follows it.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, out chan<- Event, conversationID string, err error) {
	logFailure(logger, err)
	if !send(ctx, out, Event{Kind: EventError, Err: err}) {
		return
	}
	send(ctx, out, Event{Kind: EventComplete, ConversationID: conversationID})
}

func logFailure(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidRequest), errors.Is(err, store.ErrNotFound):
		logger.Warn("dialog rejected", "error", err)
	default:
		logger.Error("dialog failed", "error", err)
	}
}

// send delivers ev unless ctx is cancelled first.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
