// ABOUTME: Package sse encodes dialog events as Server-Sent Events and decodes them again
// ABOUTME: Shared by the HTTP gateway and the Go client so both ends agree on framing

// Package sse implements the text/event-stream framing used by the dialog
// endpoints.
//
// Unlabeled data frames carry reply text. Two labeled frames end a dialog
// stream: conversationComplete with the resolved conversation id, or error
// with a message fit for the end user. The conversation change feed reuses
// the same Writer with conversationsUpdated frames.
package sse
