// Package slackbot adapts the unfurler to the Slack Events API: request signature
// verification, link_shared event parsing, card conversion and chat.unfurl
// replies.
package slackbot
