package slackbot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// Replier posts cards with chat.unfurl using the workspace's bot token.
type Replier struct {
	tokens     TokenSource
	httpClient *http.Client
	apiURL     string
}

// NewReplier creates a Replier. An empty apiURL selects slack.com.
func NewReplier(tokens TokenSource, httpClient *http.Client, apiURL string) *Replier {
	if apiURL != "" && !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Replier{tokens: tokens, httpClient: httpClient, apiURL: apiURL}
}

// Reply implements unfurl.Replier.
func (r *Replier) Reply(ctx context.Context, event unfurl.LinkEvent, cards map[string]unfurl.Card) error {
	token, err := r.tokens.BotToken(ctx, event.TeamID, event.EnterpriseID)
	if err != nil {
		return fmt.Errorf("bot token: %w", err)
	}
	opts := []slack.Option{}
	if r.httpClient != nil {
		opts = append(opts, slack.OptionHTTPClient(r.httpClient))
	}
	if r.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(r.apiURL))
	}
	api := slack.New(token, opts...)
	if _, _, _, err := api.UnfurlMessageContext(ctx, event.Channel, event.MessageTS, Attachments(cards)); err != nil {
		return fmt.Errorf("chat.unfurl: %w", err)
	}
	return nil
}
