// Package escape sanitizes free text for Slack's message format.
package escape

import (
	"regexp"
	"strings"
)

var (
	boldReplacer   = strings.NewReplacer("<b>", "*", "</b>", "*")
	entityReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	// Slack linkifies "name.mm" as a domain, which mangles Objective-C++
	// file names in stack traces.
	mmDomain = regexp.MustCompile(`([a-z])\.mm([^a-z]|$)`)
)

// Slack converts <b> tags to Slack bold, escapes the three control characters
// Slack reserves, and stops *.mm file names from being linkified.
func Slack(text string) string {
	text = boldReplacer.Replace(text)
	text = entityReplacer.Replace(text)
	return mmDomain.ReplaceAllString(text, "$1&period;mm$2")
}

// Entities escapes only the three control characters. It suits preformatted
// text such as source code, where markup rewrites would corrupt the content.
func Entities(text string) string {
	return entityReplacer.Replace(text)
}
