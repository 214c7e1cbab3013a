// Package errors provides the closed error taxonomy for veebot with
// correlation ids for chat-visible debugging.
package errors

import (
	"fmt"
	"net/http"
	"strconv"
)

// Class separates failures the user caused from failures inside the bot.
type Class int

const (
	// ClassUser marks errors caused by user input or user state. They are
	// expected during normal operation and carry no stack trace.
	ClassUser Class = iota
	// ClassInternal marks errors in the bot or its upstream services.
	ClassInternal
)

// String returns the class name used in logs and metrics labels
func (c Class) String() string {
	if c == ClassUser {
		return "user"
	}
	return "internal"
}

// Kind is the closed set of failure conditions the bot distinguishes.
// Every variant defines its own title, display message, class, and debug
// dump; a type that misses any of them does not satisfy Kind and cannot be
// wrapped into an envelope, so the set cannot grow without classifying the
// newcomer.
type Kind interface {
	// Title returns the short embed heading for this kind of failure.
	Title() string
	// Message returns the human-readable description shown in chat.
	Message() string

	// class reports who is at fault. Unexported so the variant set stays
	// closed to this package.
	class() Class
	// debugString returns a deterministic dump of the kind with its payload.
	debugString() string
}

// causer is implemented by kinds that wrap an underlying error.
type causer interface {
	cause() error
}

// Range is a half-open index interval, used to tell the user which track
// indexes are currently valid.
type Range struct {
	Start int
	End   int
}

// String formats the range the way it is shown to users
func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// TrackIndexOutOfBounds reports a track index outside the current queue.
// Available is nil when the queue bounds are unknown.
type TrackIndexOutOfBounds struct {
	Index     int
	Available *Range
}

func (k TrackIndexOutOfBounds) Title() string { return "Invalid argument error" }
func (k TrackIndexOutOfBounds) Message() string {
	return fmt.Sprintf("Given track index `%d` is out of bounds, available range: %s",
		k.Index, formatRange(k.Available))
}
func (k TrackIndexOutOfBounds) class() Class { return ClassUser }
func (k TrackIndexOutOfBounds) debugString() string {
	return fmt.Sprintf("TrackIndexOutOfBounds{Index: %d, Available: %s}",
		k.Index, formatRange(k.Available))
}

// NoActiveTrack reports a playback command while nothing is playing.
type NoActiveTrack struct{}

func (k NoActiveTrack) Title() string       { return "Invalid command error" }
func (k NoActiveTrack) Message() string     { return "No track is currently playing" }
func (k NoActiveTrack) class() Class        { return ClassUser }
func (k NoActiveTrack) debugString() string { return "NoActiveTrack{}" }

// UserNotInGuild reports a guild-only command used outside a guild.
type UserNotInGuild struct{}

func (k UserNotInGuild) Title() string { return "Not in a guild error" }
func (k UserNotInGuild) Message() string {
	return "You are not in a discord server (guild) right now"
}
func (k UserNotInGuild) class() Class        { return ClassUser }
func (k UserNotInGuild) debugString() string { return "UserNotInGuild{}" }

// ParseInt reports a command argument that failed integer parsing.
type ParseInt struct {
	Arg   string
	Cause error
}

func (k ParseInt) Title() string { return "Invalid argument error" }
func (k ParseInt) Message() string {
	return fmt.Sprintf("Failed to parse an integer: %v", k.Cause)
}
func (k ParseInt) class() Class { return ClassUser }
func (k ParseInt) debugString() string {
	return fmt.Sprintf("ParseInt{Arg: %q, Cause: %s}", k.Arg, quoteErr(k.Cause))
}
func (k ParseInt) cause() error { return k.Cause }

// ParseArg reports argument parsing that failed with a full bot error, so
// the inner envelope travels with the outer one.
type ParseArg struct {
	Arg   string
	Cause *Error
}

func (k ParseArg) Title() string { return "Invalid argument error" }
func (k ParseArg) Message() string {
	if k.Cause == nil {
		return "Parsing the arguments finished with an error: <nil>"
	}
	return fmt.Sprintf("Parsing the arguments finished with an error: %v", k.Cause)
}
func (k ParseArg) class() Class { return ClassUser }
func (k ParseArg) debugString() string {
	if k.Cause == nil {
		return fmt.Sprintf("ParseArg{Arg: %q, Cause: <nil>}", k.Arg)
	}
	return fmt.Sprintf("ParseArg{Arg: %q, Cause: %s}", k.Arg, k.Cause.debugString())
}
func (k ParseArg) cause() error {
	if k.Cause == nil {
		return nil
	}
	return k.Cause
}

// CommaInImageTag reports an image tag containing a comma, which would be
// ambiguous with the tag separator.
type CommaInImageTag struct {
	Input string
}

func (k CommaInImageTag) Title() string { return "Invalid argument error" }
func (k CommaInImageTag) Message() string {
	return fmt.Sprintf("The specified image tags contain a comma (which is prohibited): %s", k.Input)
}
func (k CommaInImageTag) class() Class { return ClassUser }
func (k CommaInImageTag) debugString() string {
	return fmt.Sprintf("CommaInImageTag{Input: %q}", k.Input)
}

// UserNotInVoiceChannel reports a voice command from a user who is not
// connected to any voice channel.
type UserNotInVoiceChannel struct{}

func (k UserNotInVoiceChannel) Title() string { return "Not in a voice channel error" }
func (k UserNotInVoiceChannel) Message() string {
	return "You are not in a voice channel. You need to connect to one first so that " +
		"I can understand which channel to join."
}
func (k UserNotInVoiceChannel) class() Class        { return ClassUser }
func (k UserNotInVoiceChannel) debugString() string { return "UserNotInVoiceChannel{}" }

// JoinVoiceChannel reports a failure to join a voice channel. Channel is
// the channel name when known, empty otherwise.
type JoinVoiceChannel struct {
	Channel string
}

func (k JoinVoiceChannel) Title() string { return "Permissions error" }
func (k JoinVoiceChannel) Message() string {
	name := k.Channel
	if name == "" {
		name = "<unknown channel name>"
	}
	return fmt.Sprintf("I cannot join the voice channel %s", name)
}
func (k JoinVoiceChannel) class() Class { return ClassInternal }
func (k JoinVoiceChannel) debugString() string {
	return fmt.Sprintf("JoinVoiceChannel{Channel: %q}", k.Channel)
}

// AudioStart reports a failure to start streaming audio to a voice
// connection.
type AudioStart struct {
	Cause error
}

func (k AudioStart) Title() string { return "Internal error" }
func (k AudioStart) Message() string {
	return fmt.Sprintf("Falied to start streaming the audio: %v", k.Cause)
}
func (k AudioStart) class() Class { return ClassInternal }
func (k AudioStart) debugString() string {
	return fmt.Sprintf("AudioStart{Cause: %s}", quoteErr(k.Cause))
}
func (k AudioStart) cause() error { return k.Cause }

// UnknownDiscord reports a Discord API failure the bot has no better
// classification for.
type UnknownDiscord struct {
	Cause error
}

func (k UnknownDiscord) Title() string { return "Internal error" }
func (k UnknownDiscord) Message() string {
	return fmt.Sprintf("Unknown discord error: %v", k.Cause)
}
func (k UnknownDiscord) class() Class { return ClassInternal }
func (k UnknownDiscord) debugString() string {
	return fmt.Sprintf("UnknownDiscord{Cause: %s}", quoteErr(k.Cause))
}
func (k UnknownDiscord) cause() error { return k.Cause }

// SendRequest reports an outbound HTTP request that never produced a
// response (DNS, connect, TLS, timeout).
type SendRequest struct {
	Cause error
}

func (k SendRequest) Title() string   { return "Send request error" }
func (k SendRequest) Message() string { return "Failed to send an http request" }
func (k SendRequest) class() Class    { return ClassInternal }
func (k SendRequest) debugString() string {
	return fmt.Sprintf("SendRequest{Cause: %s}", quoteErr(k.Cause))
}
func (k SendRequest) cause() error { return k.Cause }

// GetRequest reports a non-success HTTP status. Body holds the response
// body, or a substitute message when the body could not be read.
type GetRequest struct {
	Status int
	Body   string
}

func (k GetRequest) Title() string { return "HTTP error" }
func (k GetRequest) Message() string {
	return fmt.Sprintf("GET request has failed (http status code: %s):\n%s",
		statusLine(k.Status), k.Body)
}
func (k GetRequest) class() Class { return ClassInternal }
func (k GetRequest) debugString() string {
	return fmt.Sprintf("GetRequest{Status: %d, Body: %q}", k.Status, k.Body)
}

// UnexpectedJsonShape reports a success response whose body did not decode
// into the expected JSON shape.
type UnexpectedJsonShape struct {
	Cause error
}

func (k UnexpectedJsonShape) Title() string { return "HTTP error" }
func (k UnexpectedJsonShape) Message() string {
	return "YouTube has returned an unexpected response JSON obejct"
}
func (k UnexpectedJsonShape) class() Class { return ClassInternal }
func (k UnexpectedJsonShape) debugString() string {
	return fmt.Sprintf("UnexpectedJsonShape{Cause: %s}", quoteErr(k.Cause))
}
func (k UnexpectedJsonShape) cause() error { return k.Cause }

// YtVidNotFound reports a YouTube search that produced no video.
type YtVidNotFound struct {
	Query string
}

func (k YtVidNotFound) Title() string { return "YouTube error" }
func (k YtVidNotFound) Message() string {
	return fmt.Sprintf("Failed to find youtube video for \"%s\" query.)", k.Query)
}
func (k YtVidNotFound) class() Class { return ClassInternal }
func (k YtVidNotFound) debugString() string {
	return fmt.Sprintf("YtVidNotFound{Query: %q}", k.Query)
}

// YtInferVideoId reports a URL that does not contain a recognizable
// YouTube video id.
type YtInferVideoId struct {
	URL string
}

func (k YtInferVideoId) Title() string { return "Bad YouTube URL" }
func (k YtInferVideoId) Message() string {
	return fmt.Sprintf("Could not infer YouTube video id from the url `%s`", k.URL)
}
func (k YtInferVideoId) class() Class { return ClassInternal }
func (k YtInferVideoId) debugString() string {
	return fmt.Sprintf("YtInferVideoId{URL: %q}", k.URL)
}

// IsUserError reports whether the kind is classified as caused by the user
func IsUserError(k Kind) bool {
	return k.class() == ClassUser
}

// ClassOf returns the classification of a kind
func ClassOf(k Kind) Class {
	return k.class()
}

func formatRange(r *Range) string {
	if r == nil {
		return "<none>"
	}
	return r.String()
}

func quoteErr(err error) string {
	if err == nil {
		return "<nil>"
	}
	return strconv.Quote(err.Error())
}

func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return strconv.Itoa(code)
}
