package codesearch

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	lineRangePattern = regexp.MustCompile(`^([0-9]+)(?:-([0-9]+))?$`)
	revisionPattern  = regexp.MustCompile(`^[a-f0-9]+$`)
)

// Location identifies a file, and optionally a line range and pinned
// revision, in the source browser.
type Location struct {
	Parent     string
	Project    string
	ProjectKey string
	Branch     string
	FileName   string
	// LineRange is the raw "<start>[-<end>]" segment; Start and End are zero
	// when it is absent.
	LineRange string
	Start     int
	End       int
	Hash      string
}

// Repo returns "<project>/<projectKey>".
func (l Location) Repo() string {
	return l.Project + "/" + l.ProjectKey
}

// Revision is the pinned hash when present, else the branch.
func (l Location) Revision() string {
	if l.Hash != "" {
		return l.Hash
	}
	return l.Branch
}

// Parse recognizes
// https://source.chromium.org/<parent>/<project>/<projectKey>/+/<branch>:<file>[;l=<start>[-<end>]][;drc=<hash>].
// The query string is ignored and the optional segments may appear in either order.
func Parse(rawURL string) (Location, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != Host {
		return Location{}, false
	}
	repoPart, filePart, ok := strings.Cut(u.Path, "/+/")
	if !ok {
		return Location{}, false
	}

	repo := strings.SplitN(strings.TrimPrefix(repoPart, "/"), "/", 3)
	if len(repo) != 3 || repo[0] == "" || repo[1] == "" || repo[2] == "" || strings.HasSuffix(repo[2], "/") {
		return Location{}, false
	}
	loc := Location{Parent: repo[0], Project: repo[1], ProjectKey: repo[2]}

	branch, rest, ok := strings.Cut(filePart, ":")
	if !ok || branch == "" {
		return Location{}, false
	}
	loc.Branch = branch

	segments := strings.Split(rest, ";")
	loc.FileName = segments[0]
	if loc.FileName == "" {
		return Location{}, false
	}
	for _, seg := range segments[1:] {
		key, value, _ := strings.Cut(seg, "=")
		switch key {
		case "l":
			if !loc.setLineRange(value) {
				return Location{}, false
			}
		case "drc":
			// An unrecognized revision falls back to the branch.
			if revisionPattern.MatchString(value) {
				loc.Hash = value
			}
		}
	}
	return loc, true
}

func (l *Location) setLineRange(value string) bool {
	m := lineRangePattern.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil || start < 1 {
		return false
	}
	end := start
	if m[2] != "" {
		if end, err = strconv.Atoi(m[2]); err != nil {
			return false
		}
	}
	l.LineRange, l.Start, l.End = value, start, end
	return true
}
