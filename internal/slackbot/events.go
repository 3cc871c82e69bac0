package slackbot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack/slackevents"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// EventKind classifies an Events API delivery.
type EventKind int

// Event kinds the server reacts to.
const (
	KindIgnored EventKind = iota
	KindURLVerification
	KindLinkShared
)

// Event is a parsed Events API delivery.
type Event struct {
	Kind      EventKind
	Challenge string
	Links     unfurl.LinkEvent
}

var errUnexpectedPayload = errors.New("unexpected event payload")

// ParseEvent decodes an Events API request body. Token verification is left
// to the request signature.
func ParseEvent(body []byte) (Event, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}

	switch ev.Type {
	case slackevents.URLVerification:
		challenge, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			return Event{}, fmt.Errorf("%w: url_verification", errUnexpectedPayload)
		}
		return Event{Kind: KindURLVerification, Challenge: challenge.Challenge}, nil
	case slackevents.CallbackEvent:
		shared, ok := ev.InnerEvent.Data.(*slackevents.LinkSharedEvent)
		if !ok {
			return Event{Kind: KindIgnored}, nil
		}
		links := unfurl.LinkEvent{
			TeamID:       ev.TeamID,
			EnterpriseID: enterpriseID(body),
			Channel:      shared.Channel,
			MessageTS:    string(shared.MessageTimeStamp),
		}
		for _, l := range shared.Links {
			links.URLs = append(links.URLs, l.URL)
		}
		if len(links.URLs) == 0 {
			return Event{Kind: KindIgnored}, nil
		}
		return Event{Kind: KindLinkShared, Links: links}, nil
	default:
		return Event{Kind: KindIgnored}, nil
	}
}

func enterpriseID(body []byte) string {
	var envelope struct {
		EnterpriseID string `json:"enterprise_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.EnterpriseID
}
