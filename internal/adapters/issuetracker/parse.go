package issuetracker

import (
	"net/url"
	"strconv"
	"strings"
)

// Parse recognizes https://issues.chromium.org/issues/<n>.
func Parse(rawURL string) (int64, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != Host {
		return 0, false
	}
	parts := strings.Split(u.Path, "/")
	if len(parts) < 3 || parts[0] != "" || parts[1] != "issues" {
		return 0, false
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
