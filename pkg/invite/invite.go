// Package invite builds the OAuth2 authorization URL used to add the bot
// to a Discord guild.
package invite

import (
	"fmt"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/veebot/veebot/pkg/securerandom"
)

// Discord permission bits requested by the invite URL.
const (
	PermViewChannel        = 1 << 10
	PermSendMessages       = 1 << 11
	PermEmbedLinks         = 1 << 14
	PermReadMessageHistory = 1 << 16
	PermConnect            = 1 << 20
	PermSpeak              = 1 << 21

	// DefaultPermissions covers everything the bot needs: reading and
	// sending messages with embeds, plus joining and speaking in voice.
	DefaultPermissions = PermViewChannel | PermSendMessages | PermEmbedLinks |
		PermReadMessageHistory | PermConnect | PermSpeak
)

// authorizeEndpoint is Discord's OAuth2 authorization endpoint. Bot installs
// never exchange a code, so no token URL is configured.
var authorizeEndpoint = oauth2.Endpoint{
	AuthURL: "https://discord.com/oauth2/authorize",
}

// Builder constructs invite URLs for a bot application.
type Builder struct {
	oauth       *oauth2.Config
	permissions int64
}

// NewBuilder creates a Builder for the given application client id.
// A zero permissions value falls back to DefaultPermissions.
func NewBuilder(clientID string, permissions int64) (*Builder, error) {
	if clientID == "" {
		return nil, fmt.Errorf("invite: client id is required")
	}
	if permissions == 0 {
		permissions = DefaultPermissions
	}
	return &Builder{
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: authorizeEndpoint,
			Scopes:   []string{"bot"},
		},
		permissions: permissions,
	}, nil
}

// URL returns an invite URL carrying a fresh random state parameter.
func (b *Builder) URL() (string, error) {
	state, err := securerandom.ID(16)
	if err != nil {
		return "", fmt.Errorf("invite: generating state: %w", err)
	}
	return b.urlWithState(state), nil
}

func (b *Builder) urlWithState(state string) string {
	return b.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("permissions", strconv.FormatInt(b.permissions, 10)))
}
