// Package errors provides the error handling system for veebot: a closed
// taxonomy of failure kinds, correlation ids, and chat-ready rendering.
//
// # Overview
//
// Every failure in the bot is one of a fixed set of kinds. A kind knows
// three things about itself:
//   - its class: caused by the user (bad argument, wrong channel) or
//     internal (Discord API, HTTP, YouTube)
//   - its title: the short heading of the error embed
//   - its message: the sentence shown to the user
//
// The set is closed: classification and titles are defined per variant, so
// a new kind cannot be introduced without providing both, and the compiler
// rejects any kind that misses them.
//
// # Envelopes
//
// A kind never travels alone. New wraps it into an Error envelope carrying
// a six character correlation id and, for internal kinds only, the captured
// call stack:
//
//	if len(hits) == 0 {
//	    return nil, errors.New(errors.YtVidNotFound{Query: query})
//	}
//
// Construction logs the error exactly once at error severity, with the id
// and a debug dump of the kind (plus the stack for internal kinds). The id
// is also shown in chat, so a user pasting "Error id: x1J9zq" gives an
// operator the exact log line.
//
// # Rendering
//
// RenderMessage turns an envelope into the embed content posted back to the
// chat:
//
//	Invalid argument error
//
//	Given track index `9` is out of bounds, available range: 0..4
//
//	Error id: **`x1J9zq`**
//
//	```
//	TrackIndexOutOfBounds{Index: 9, Available: 0..4}
//	```
//
// Rendering is pure: it re-reads the envelope and produces identical bytes
// every time.
//
// # Thread Safety
//
// Envelope construction and rendering are safe for concurrent use.
package errors
