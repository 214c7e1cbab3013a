package discord

import (
	"sync"
)

// State caches the slice of gateway state the bot needs: guild and
// channel names plus who is in which voice channel. It is updated from
// dispatch events and safe for concurrent use.
type State struct {
	mu          sync.RWMutex
	self        User
	guilds      map[Snowflake]string
	channels    map[Snowflake]Channel
	voiceStates map[Snowflake]map[Snowflake]Snowflake // guild -> user -> channel
}

// NewState creates an empty state cache
func NewState() *State {
	return &State{
		guilds:      make(map[Snowflake]string),
		channels:    make(map[Snowflake]Channel),
		voiceStates: make(map[Snowflake]map[Snowflake]Snowflake),
	}
}

// SetSelf records the bot's own user from the READY event
func (s *State) SetSelf(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = u
}

// Self returns the bot's own user
func (s *State) Self() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ApplyGuildCreate ingests a GUILD_CREATE event
func (s *State) ApplyGuildCreate(g *Guild) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guilds[g.ID] = g.Name
	for _, ch := range g.Channels {
		ch.GuildID = g.ID
		s.channels[ch.ID] = ch
	}

	states := make(map[Snowflake]Snowflake, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != "" {
			states[vs.UserID] = vs.ChannelID
		}
	}
	s.voiceStates[g.ID] = states
}

// ApplyGuildDelete drops all cached state for a guild
func (s *State) ApplyGuildDelete(guildID Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.guilds, guildID)
	delete(s.voiceStates, guildID)
	for id, ch := range s.channels {
		if ch.GuildID == guildID {
			delete(s.channels, id)
		}
	}
}

// ApplyChannel ingests a CHANNEL_CREATE or CHANNEL_UPDATE event
func (s *State) ApplyChannel(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = *ch
}

// ApplyChannelDelete ingests a CHANNEL_DELETE event
func (s *State) ApplyChannelDelete(channelID Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
}

// ApplyVoiceState ingests a VOICE_STATE_UPDATE event. An empty channel
// id means the user left voice.
func (s *State) ApplyVoiceState(vs *VoiceState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, ok := s.voiceStates[vs.GuildID]
	if !ok {
		states = make(map[Snowflake]Snowflake)
		s.voiceStates[vs.GuildID] = states
	}

	if vs.ChannelID == "" {
		delete(states, vs.UserID)
		return
	}
	states[vs.UserID] = vs.ChannelID
}

// VoiceChannelOf returns the voice channel the user currently occupies
func (s *State) VoiceChannelOf(guildID, userID Snowflake) (Snowflake, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states, ok := s.voiceStates[guildID]
	if !ok {
		return "", false
	}
	ch, ok := states[userID]
	return ch, ok
}

// ChannelName returns the cached name of a channel, or "" if unknown
func (s *State) ChannelName(channelID Snowflake) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channelID].Name
}

// GuildName returns the cached name of a guild, or "" if unknown
func (s *State) GuildName(guildID Snowflake) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guilds[guildID]
}
