// Package capture stores upstream payloads that failed to decode so schema
// drift can be diagnosed from the exact bytes the service returned.
package capture

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// Recorder writes payloads to a blob store under
// <prefix>/<source>/<yyyy>/<mm>/<dd>/<id>-<digest>.json.
type Recorder struct {
	blobs  unfurl.BlobStore
	clock  unfurl.Clock
	ids    unfurl.IDGenerator
	hasher unfurl.Hasher
	prefix string
}

// New creates a Recorder.
func New(blobs unfurl.BlobStore, clock unfurl.Clock, ids unfurl.IDGenerator, hasher unfurl.Hasher, prefix string) *Recorder {
	return &Recorder{
		blobs:  blobs,
		clock:  clock,
		ids:    ids,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Record stores body and returns the object URI.
func (r *Recorder) Record(ctx context.Context, source string, body []byte) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("capture id: %w", err)
	}
	digest, err := r.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("capture digest: %w", err)
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	day := r.clock.Now().UTC().Format("2006/01/02")
	key := path.Join(r.prefix, sanitize(source), day, id+"-"+digest+".json")
	uri, err := r.blobs.PutObject(ctx, key, "application/json", body)
	if err != nil {
		return "", fmt.Errorf("store capture: %w", err)
	}
	return uri, nil
}

var sourceReplacer = strings.NewReplacer(" ", "-", "..", "-", "$", "")

func sanitize(source string) string {
	s := strings.Trim(sourceReplacer.Replace(source), "/")
	if s == "" {
		return "unknown"
	}
	return s
}
