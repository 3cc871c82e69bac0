package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("installation not found")

// Installation records a workspace that installed the app.
type Installation struct {
	// TeamID is the Slack workspace; empty for org-wide installs.
	TeamID string `json:"team_id"`
	// EnterpriseID is the Enterprise Grid org; empty outside Grid.
	EnterpriseID string `json:"enterprise_id"`
	// BotToken is the xoxb- token used for chat.unfurl.
	BotToken string `json:"bot_token"`
	// BotUserID is the bot user the token belongs to.
	BotUserID string `json:"bot_user_id,omitempty"`
	// InstalledAt is when the row was last written.
	InstalledAt time.Time `json:"installed_at"`
}

// InstallationRepository persists installations keyed by (team, enterprise).
type InstallationRepository interface {
	// GetInstallation returns ErrNotFound when no row matches.
	GetInstallation(ctx context.Context, teamID, enterpriseID string) (Installation, error)
	// StoreInstallation inserts or replaces the row for the installation's key.
	StoreInstallation(ctx context.Context, inst Installation) error
}
