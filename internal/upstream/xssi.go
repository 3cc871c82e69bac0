package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// XSSIPrefixLen is the length of the anti-hijacking prefix (")]}'") that
// Gerrit, Monorail and the issue tracker prepend to JSON responses.
const XSSIPrefixLen = 4

// StripXSSI removes the 4-byte anti-hijacking prefix.
func StripXSSI(source string, body []byte) ([]byte, error) {
	if len(body) < XSSIPrefixLen {
		return nil, unfurl.Malformed(source, body, fmt.Errorf("body shorter than xssi prefix"))
	}
	return body[XSSIPrefixLen:], nil
}

// DecodeXSSI strips the prefix and decodes the remaining JSON into v. Numbers
// decoded into interface values are kept as json.Number.
func DecodeXSSI(source string, body []byte, v any) error {
	payload, err := StripXSSI(source, body)
	if err != nil {
		return err
	}
	return DecodeJSON(source, payload, v)
}

// DecodeJSON decodes a plain JSON body, reporting failures as malformed payloads.
func DecodeJSON(source string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(body)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return unfurl.Malformed(source, body, err)
	}
	return nil
}
