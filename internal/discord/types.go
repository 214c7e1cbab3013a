// Package discord implements the subset of the Discord API the bot
// needs: a REST client for messages and gateway metadata, a gateway
// session for realtime events, and a voice state cache.
package discord

import (
	"encoding/json"
	"strconv"
	"time"
)

// Snowflake is a Discord entity id. Discord serializes them as strings.
type Snowflake string

// Uint64 parses the snowflake into its numeric form
func (s Snowflake) Uint64() uint64 {
	n, _ := strconv.ParseUint(string(s), 10, 64)
	return n
}

// Timestamp extracts the creation time embedded in the snowflake
func (s Snowflake) Timestamp() time.Time {
	const discordEpoch = 1420070400000
	ms := int64(s.Uint64()>>22) + discordEpoch
	return time.UnixMilli(ms)
}

// User represents a Discord user
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Bot           bool      `json:"bot"`
}

// Member represents a guild member
type Member struct {
	User *User  `json:"user,omitempty"`
	Nick string `json:"nick,omitempty"`
	Mute bool   `json:"mute"`
	Deaf bool   `json:"deaf"`
}

// Channel represents a guild channel
type Channel struct {
	ID      Snowflake `json:"id"`
	GuildID Snowflake `json:"guild_id,omitempty"`
	Name    string    `json:"name"`
	Type    int       `json:"type"`
}

// Channel types used by the bot
const (
	ChannelTypeGuildText  = 0
	ChannelTypeGuildVoice = 2
)

// Guild represents a guild as delivered by the GUILD_CREATE event
type Guild struct {
	ID          Snowflake    `json:"id"`
	Name        string       `json:"name"`
	Channels    []Channel    `json:"channels"`
	VoiceStates []VoiceState `json:"voice_states"`
	Members     []Member     `json:"members"`
}

// VoiceState tracks which voice channel a user occupies
type VoiceState struct {
	GuildID   Snowflake `json:"guild_id,omitempty"`
	ChannelID Snowflake `json:"channel_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
}

// Message represents a message in a text channel
type Message struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	Author    User      `json:"author"`
	Member    *Member   `json:"member,omitempty"`
	Content   string    `json:"content"`
}

// Embed is a rich message embed
type Embed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Image       *EmbedImage `json:"image,omitempty"`
}

// EmbedImage is an image attached to an embed
type EmbedImage struct {
	URL string `json:"url"`
}

// CreateMessageRequest is the body of the create message endpoint
type CreateMessageRequest struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// GatewayBot is the response of the gateway bot endpoint
type GatewayBot struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
}

// VoiceServerUpdate carries the voice endpoint and token for a guild
type VoiceServerUpdate struct {
	Token    string    `json:"token"`
	GuildID  Snowflake `json:"guild_id"`
	Endpoint string    `json:"endpoint"`
}

// payload is the framing of every gateway message
type payload struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence int64           `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

// Gateway opcodes
const (
	opDispatch            = 0
	opHeartbeat           = 1
	opIdentify            = 2
	opVoiceStateUpdate    = 4
	opResume              = 6
	opReconnect           = 7
	opRequestGuildMembers = 8
	opInvalidSession      = 9
	opHello               = 10
	opHeartbeatACK        = 11
)

// Gateway intents requested by the bot: guilds, voice states,
// guild messages and message content
const intents = 1<<0 | 1<<7 | 1<<9 | 1<<15

// helloData is the payload of the HELLO opcode
type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// identifyData is the payload of the IDENTIFY opcode
type identifyData struct {
	Token      string        `json:"token"`
	Intents    int           `json:"intents"`
	Properties identifyProps `json:"properties"`
}

type identifyProps struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is the payload of the RESUME opcode
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// readyData is the payload of the READY dispatch
type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}

// voiceStateUpdateData is sent to join, move or leave a voice channel
type voiceStateUpdateData struct {
	GuildID   Snowflake  `json:"guild_id"`
	ChannelID *Snowflake `json:"channel_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}
