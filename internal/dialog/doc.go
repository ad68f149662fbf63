// Package dialog drives one chat turn from request to persisted exchange.
//
// # Orchestrator
//
// An Orchestrator is built once at startup from its dependencies:
//
//	orch := dialog.New(store, completionClient, logger, dialog.Options{
//	    DefaultModel: "gpt-4o",
//	    Notifier:     broadcaster,
//	})
//
// Each invocation moves through Starting, Streaming, Finalizing, and ends
// Completed or Failed:
//
//  1. Starting: the request must carry a user id and a non-empty history
//     whose last message is the new user turn. A supplied conversation id
//     must belong to the user; its model is used when none was requested.
//  2. Streaming: the history goes to the completion client; every non-empty
//     delta is appended to the reply and emitted as an EventDelta.
//  3. Finalizing: on provider end-of-stream the conversation (created if
//     needed), the user turn, and the full reply are saved in one store
//     transaction, then EventComplete is emitted.
//  4. Failed: any error emits EventError followed by EventComplete carrying
//     whatever conversation id is known, so consumers waiting on completion
//     always terminate.
//
// Stream returns the events on a channel that is closed after the terminal
// event. Cancelling the context (client went away) stops the stream without
// an error event and without persisting anything.
//
// Complete runs the same resolution and persistence around a blocking
// completion call and returns a Result.
//
// # Change notifications
//
// Broadcaster fans out per-user Notices whenever a conversation is created,
// gets a new turn, or is deleted, so open clients can refresh their
// conversation lists.
package dialog
