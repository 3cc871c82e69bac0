package slackbot

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

// ErrNoToken is returned when no bot token is known for a workspace.
var ErrNoToken = errors.New("no bot token for workspace")

// TokenSource resolves the bot token used to reply in a workspace.
type TokenSource interface {
	BotToken(ctx context.Context, teamID, enterpriseID string) (string, error)
}

// StaticToken serves one token for every workspace.
type StaticToken string

// BotToken returns the static token.
func (s StaticToken) BotToken(context.Context, string, string) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// InstallationTokens looks tokens up in the installation store and falls
// back to a static token for workspaces that never installed.
type InstallationTokens struct {
	Repo     store.InstallationRepository
	Fallback StaticToken
}

// BotToken resolves the token for (teamID, enterpriseID).
func (s InstallationTokens) BotToken(ctx context.Context, teamID, enterpriseID string) (string, error) {
	inst, err := s.Repo.GetInstallation(ctx, teamID, enterpriseID)
	switch {
	case err == nil && inst.BotToken != "":
		return inst.BotToken, nil
	case err == nil, errors.Is(err, store.ErrNotFound):
		return s.Fallback.BotToken(ctx, teamID, enterpriseID)
	default:
		return "", fmt.Errorf("lookup installation %s/%s: %w", teamID, enterpriseID, err)
	}
}
