package codesearch

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const (
	configMarker = "var GRIMOIRE_CONFIG = '"
	fileRPC      = "/$rpc/devtools.grimoire.FileService/GetContentsStreaming"
	apiClient    = "grpc-web/1.0.0 grimoire/1.0.0+uyti2atju1zl.be6of0mawakc.code.codebrowser-frontend-oss-20210330.07_p0"
)

var (
	hexEscape = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)

	errNoConfig = errors.New("grimoire config not found")
)

// grimoireConfig holds what the landing page embeds for talking to the file service.
type grimoireConfig struct {
	Token    string
	Endpoint string
}

// decodeGrimoireConfig extracts the config literal from the landing page,
// reverses its \xHH escapes, drops literal \n sequences and reads the token
// (index 0) and endpoint (index 6,1).
func decodeGrimoireConfig(page []byte) (grimoireConfig, error) {
	const source = "landing page"
	_, after, ok := strings.Cut(string(page), configMarker)
	if !ok {
		return grimoireConfig{}, unfurl.Malformed(source, page, errNoConfig)
	}
	literal, _, ok := strings.Cut(after, "'")
	if !ok {
		return grimoireConfig{}, unfurl.Malformed(source, page, errNoConfig)
	}
	literal = hexEscape.ReplaceAllStringFunc(literal, func(m string) string {
		b, err := strconv.ParseUint(m[2:], 16, 8)
		if err != nil {
			return m
		}
		return string(rune(b))
	})
	literal = strings.ReplaceAll(literal, `\n`, "")

	var raw any
	if err := upstream.DecodeJSON(source, []byte(literal), &raw); err != nil {
		return grimoireConfig{}, err
	}
	token, ok := upstream.StringAt(raw, 0)
	if !ok || token == "" {
		return grimoireConfig{}, unfurl.Malformed(source, page, fmt.Errorf("%w: token", errNoConfig))
	}
	endpoint, ok := upstream.StringAt(raw, 6, 1)
	if !ok || endpoint == "" {
		return grimoireConfig{}, unfurl.Malformed(source, page, fmt.Errorf("%w: endpoint", errNoConfig))
	}
	return grimoireConfig{Token: token, Endpoint: strings.TrimSuffix(endpoint, "/")}, nil
}

// fileContentsURL carries the RPC headers in the $httpHeaders query parameter
// the way the browser's gRPC-web client does.
func (g grimoireConfig) fileContentsURL() string {
	headers := strings.Join([]string{
		"X-Goog-Api-Key:" + g.Token,
		"X-Goog-Api-Client:" + apiClient,
		"X-Server-Timeout:60",
		"Content-Type:application/json+protobuf",
		"X-User-Agent:grpc-web-javascript/0.1",
	}, "\r\n") + "\r\n"
	return g.Endpoint + fileRPC + "?" + url.Values{"$httpHeaders": {headers}}.Encode()
}

// fileContentsRequest builds the positional GetContentsStreaming request.
func fileContentsRequest(loc Location) []any {
	return []any{
		[]any{
			[]any{[]any{nil, loc.Repo(), nil, nil, loc.Parent}, nil, loc.Revision()},
			loc.FileName,
			nil, nil, nil, nil,
			[]any{},
		},
		true, nil, true, nil, nil, nil, nil, true,
	}
}
