package unfurl

import (
	"context"
	"time"
)

// LinkEvent is one link_shared delivery: the links pasted into a message and
// where the reply goes.
type LinkEvent struct {
	TeamID       string
	EnterpriseID string
	Channel      string
	MessageTS    string
	URLs         []string
}

// Replier posts resolved cards back to the message that carried the links.
type Replier interface {
	Reply(ctx context.Context, event LinkEvent, cards map[string]Card) error
}

// BlobStore persists opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes outcome events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
