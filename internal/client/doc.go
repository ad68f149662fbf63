// ABOUTME: Package client is the Go consumer of the dialog-relay HTTP API
// ABOUTME: Used by the dialog-chat terminal client and by end-to-end tests

// Package client talks to a dialog-relay server over HTTP.
//
// StreamDialog posts a turn to the streaming endpoint and decodes the
// event stream, handing each text delta to a callback as it arrives:
//
//	c := client.New("http://localhost:8080", token)
//	out, err := c.StreamDialog(ctx, client.DialogRequest{
//		Messages: []message.Message{message.New(message.RoleUser, "Hello")},
//	}, func(delta string) { fmt.Print(delta) })
//
// When the request carried no conversation id, out.Redirect reports that the
// server created one and out.ConversationID names it.
//
// The remaining methods wrap the conversation endpoints and decode the
// {status, data, message} envelope. Non-2xx responses become *APIError.
package client
