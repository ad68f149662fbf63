// ABOUTME: Scripted in-process Client for tests
// ABOUTME: Replays fixed deltas and injects failures at chosen points

package completion

import (
	"context"
	"strings"
	"sync"
)

// Scripted is a Client that replays Deltas. StartErr fails the call before
// any delta; StreamErr fails the stream after FailAfter deltas.
type Scripted struct {
	Deltas    []string
	StartErr  error
	StreamErr error
	FailAfter int
	Usage     Usage

	// Block, when non-nil, is received from before each delta so tests can
	// pace the stream.
	Block chan struct{}

	mu    sync.Mutex
	calls []Call
}

// Call records one request made to a Scripted client.
type Call struct {
	Op      string
	Model   string
	History []Message
}

// Calls returns the requests made so far.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Scripted) record(op, model string, history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Model: model, History: append([]Message(nil), history...)})
}

// Stream replays the scripted deltas.
func (s *Scripted) Stream(ctx context.Context, model string, history []Message) (Stream, error) {
	s.record("stream", model, history)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	return &scriptedStream{ctx: ctx, script: s, index: -1}, nil
}

// Complete returns the concatenated deltas.
func (s *Scripted) Complete(ctx context.Context, model string, history []Message) (*Result, error) {
	s.record("complete", model, history)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Text: strings.Join(s.Deltas, ""), Model: model, Usage: s.Usage}, nil
}

type scriptedStream struct {
	ctx    context.Context
	script *Scripted
	index  int
	err    error
}

func (s *scriptedStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.script.StreamErr != nil && s.index+1 >= s.script.FailAfter {
		s.err = s.script.StreamErr
		return false
	}
	if s.index+1 >= len(s.script.Deltas) {
		return false
	}
	if s.script.Block != nil {
		select {
		case <-s.script.Block:
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return false
		}
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.index++
	return true
}

func (s *scriptedStream) Delta() string {
	if s.index < 0 || s.index >= len(s.script.Deltas) {
		return ""
	}
	return s.script.Deltas[s.index]
}

func (s *scriptedStream) Usage() Usage {
	return s.script.Usage
}

func (s *scriptedStream) Err() error {
	return s.err
}

func (s *scriptedStream) Close() error {
	return nil
}

var _ Client = (*Scripted)(nil)
