package errors

import "fmt"

// EmbedColor is the accent color of error embeds, RGB(167, 14, 37).
const EmbedColor = 0xA70E25

// Message is the chat-ready rendering of an envelope.
type Message struct {
	Title string
	Body  string
}

// RenderMessage renders the envelope into the embed posted to the chat the
// failing command came from. The body repeats the display sentence, shows
// the correlation id users can copy for us, and ends with a debug dump of
// the kind. Pure: same envelope, same bytes, no side effects.
func (e *Error) RenderMessage() Message {
	return Message{
		Title: e.Kind.Title(),
		Body: fmt.Sprintf("%s\n\nError id: **`%s`**\n\n```\n%s\n```",
			e.Kind.Message(),
			e.ID,
			e.Kind.debugString(),
		),
	}
}
