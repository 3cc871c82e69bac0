package slackbot

import (
	"encoding/json"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

func TestAttachmentConvertsCard(t *testing.T) {
	t.Parallel()

	card := unfurl.Card{
		Color:      "#4D394B",
		AuthorName: "Ada",
		AuthorIcon: ":void",
		AuthorLink: "https://a",
		Fallback:   "fb",
		Title:      "t",
		TitleLink:  "https://t",
		FooterIcon: "https://f.ico",
		Text:       "body",
		Footer:     "<https://x|x>",
		Timestamp:  1617126583123,
		Fields:     []unfurl.Field{{Title: "Status", Value: "New", Short: true}},
		MarkdownIn: []string{"text"},
	}
	att := Attachment(card)
	require.Equal(t, slack.Attachment{
		Color:      "#4D394B",
		Fallback:   "fb",
		AuthorName: "Ada",
		AuthorLink: "https://a",
		AuthorIcon: ":void",
		Title:      "t",
		TitleLink:  "https://t",
		Text:       "body",
		Footer:     "<https://x|x>",
		FooterIcon: "https://f.ico",
		MarkdownIn: []string{"text"},
		Ts:         json.Number("1617126583"),
		Fields:     []slack.AttachmentField{{Title: "Status", Value: "New", Short: true}},
	}, att)

	require.Empty(t, Attachment(unfurl.Card{Title: "x"}).Ts)
}
