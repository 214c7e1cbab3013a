// Package player manages per-guild track queues and streams them into
// voice connections.
package player

import (
	"time"

	"github.com/google/uuid"

	"github.com/veebot/veebot/internal/discord"
)

// Track is one entry in a guild's play queue
type Track struct {
	// ID identifies the track across queue operations
	ID uuid.UUID

	// Title shown in chat
	Title string

	// VideoID is the YouTube video id
	VideoID string

	// URL handed to the stream command
	URL string

	// Duration is zero when unknown
	Duration time.Duration

	// RequestedBy is the user who queued the track
	RequestedBy discord.Snowflake

	// TextChannelID is the channel the track was requested from, used
	// to report playback failures that happen after the command returned
	TextChannelID discord.Snowflake
}
