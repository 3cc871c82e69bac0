package slackbot

import (
	"encoding/json"
	"strconv"

	"github.com/slack-go/slack"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// Attachment converts a card into the legacy attachment chat.unfurl expects.
// Slack timestamps are in seconds.
func Attachment(card unfurl.Card) slack.Attachment {
	att := slack.Attachment{
		Color:      card.Color,
		Fallback:   card.Fallback,
		AuthorName: card.AuthorName,
		AuthorLink: card.AuthorLink,
		AuthorIcon: card.AuthorIcon,
		Title:      card.Title,
		TitleLink:  card.TitleLink,
		Text:       card.Text,
		Footer:     card.Footer,
		FooterIcon: card.FooterIcon,
		MarkdownIn: card.MarkdownIn,
	}
	if card.Timestamp > 0 {
		att.Ts = json.Number(strconv.FormatInt(card.Timestamp/1000, 10))
	}
	for _, f := range card.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: f.Short})
	}
	return att
}

// Attachments converts a URL to card mapping.
func Attachments(cards map[string]unfurl.Card) map[string]slack.Attachment {
	out := make(map[string]slack.Attachment, len(cards))
	for u, card := range cards {
		out[u] = Attachment(card)
	}
	return out
}
