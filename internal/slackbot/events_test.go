package slackbot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

func TestParseURLVerification(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent([]byte(`{"token":"t","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`))
	require.NoError(t, err)
	require.Equal(t, KindURLVerification, ev.Kind)
	require.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", ev.Challenge)
}

func TestParseLinkShared(t *testing.T) {
	t.Parallel()

	body := `{
		"token": "t",
		"team_id": "T123",
		"enterprise_id": "E9",
		"api_app_id": "A1",
		"type": "event_callback",
		"event_id": "Ev1",
		"event_time": 1617000000,
		"event": {
			"type": "link_shared",
			"channel": "C42",
			"user": "U1",
			"message_ts": "1617000000.000100",
			"event_ts": "1617000000.000200",
			"links": [
				{"domain": "crbug.com", "url": "https://crbug.com/1"},
				{"domain": "chromium-review.googlesource.com", "url": "https://chromium-review.googlesource.com/c/chromium/src/+/2"}
			]
		}
	}`
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)
	require.Equal(t, KindLinkShared, ev.Kind)
	require.Equal(t, unfurl.LinkEvent{
		TeamID:       "T123",
		EnterpriseID: "E9",
		Channel:      "C42",
		MessageTS:    "1617000000.000100",
		URLs:         []string{"https://crbug.com/1", "https://chromium-review.googlesource.com/c/chromium/src/+/2"},
	}, ev.Links)
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent([]byte(`{"type":"event_callback","team_id":"T1","event":{"type":"app_mention","text":"hi","channel":"C1","ts":"1.1","user":"U1"}}`))
	require.NoError(t, err)
	require.Equal(t, KindIgnored, ev.Kind)

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}
