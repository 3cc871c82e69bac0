package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crlink-unfurler/internal/publisher/memory"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// fakeAdapter matches the URLs it was given and records every call.
type fakeAdapter struct {
	name    string
	matches map[string]bool
	err     error

	mu    sync.Mutex
	calls []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) TryUnfurl(_ context.Context, rawURL string) (unfurl.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if f.err != nil {
		return unfurl.NotApplicable(), f.err
	}
	if !f.matches[rawURL] {
		return unfurl.NotApplicable(), nil
	}
	return unfurl.Matched(unfurl.Card{Title: f.name, TitleLink: rawURL, Fallback: f.name}), nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []map[string]unfurl.Card
	events  []unfurl.LinkEvent
	err     error
}

func (r *fakeReplier) Reply(_ context.Context, ev unfurl.LinkEvent, cards map[string]unfurl.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, cards)
	r.events = append(r.events, ev)
	return r.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestDispatchFanOut(t *testing.T) {
	t.Parallel()

	a1 := &fakeAdapter{name: "one", matches: map[string]bool{"https://a": true}}
	a2 := &fakeAdapter{name: "two", matches: map[string]bool{"https://b": true}}
	replier := &fakeReplier{}
	d := New(Config{}, []unfurl.Adapter{a1, a2}, replier, nil, nil, nil, nil)

	ev := unfurl.LinkEvent{Channel: "C1", MessageTS: "1.2", URLs: []string{"https://a", "https://b"}}
	d.Dispatch(context.Background(), ev)

	require.Len(t, replier.replies, 1)
	reply := replier.replies[0]
	require.Len(t, reply, 2)
	require.Equal(t, "one", reply["https://a"].Title)
	require.Equal(t, "two", reply["https://b"].Title)
	require.Equal(t, ev, replier.events[0])
	require.Equal(t, 2, a1.callCount())
	require.Equal(t, 2, a2.callCount())
}

func TestDispatchConflictEmitsNothing(t *testing.T) {
	t.Parallel()

	both := map[string]bool{"https://a": true}
	logger, logs := observed()
	replier := &fakeReplier{}
	d := New(Config{}, []unfurl.Adapter{
		&fakeAdapter{name: "one", matches: both},
		&fakeAdapter{name: "two", matches: both},
	}, replier, nil, nil, nil, logger)

	res := d.Resolve(context.Background(), []string{"https://a"})
	require.Len(t, res, 1)
	require.Equal(t, OutcomeConflict, res[0].Outcome)
	require.ElementsMatch(t, []string{"one", "two"}, res[0].Adapters)
	require.Empty(t, Cards(res))
	require.Equal(t, 1, logs.FilterMessage("multiple adapters matched link").Len())

	d.Dispatch(context.Background(), unfurl.LinkEvent{URLs: []string{"https://a"}})
	require.Empty(t, replier.replies, "empty mapping must not reply")
}

func TestDispatchCapsAndDeduplicates(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "one"}
	d := New(Config{MaxLinks: 2}, []unfurl.Adapter{a}, nil, nil, nil, nil, nil)

	res := d.Resolve(context.Background(), []string{"u1", "u1", "", "u2", "u3"})
	require.Len(t, res, 2)
	require.Equal(t, "u1", res[0].URL)
	require.Equal(t, "u2", res[1].URL)
	require.Equal(t, 2, a.callCount())

	d = New(Config{}, []unfurl.Adapter{a}, nil, nil, nil, nil, nil)
	require.Len(t, d.Resolve(context.Background(), []string{"a", "b", "c", "d"}), 3)
}

func TestDispatchFatalDropsOnlyThatLink(t *testing.T) {
	t.Parallel()

	logger, logs := observed()
	good := &fakeAdapter{name: "good", matches: map[string]bool{"https://a": true, "https://b": true}}
	fatal := &fatalOn{url: "https://a", err: fmt.Errorf("monorail: %w", unfurl.ErrFatal)}
	replier := &fakeReplier{}
	d := New(Config{}, []unfurl.Adapter{good, fatal}, replier, nil, nil, nil, logger)

	d.Dispatch(context.Background(), unfurl.LinkEvent{URLs: []string{"https://a", "https://b"}})
	require.Len(t, replier.replies, 1)
	require.Len(t, replier.replies[0], 1)
	require.Contains(t, replier.replies[0], "https://b")

	entries := logs.FilterMessage("fatal adapter failure, dropping link").All()
	require.Len(t, entries, 1)
	require.Equal(t, zap.ErrorLevel, entries[0].Level)
}

type fatalOn struct {
	url string
	err error
}

func (f *fatalOn) Name() string { return "fatal" }

func (f *fatalOn) TryUnfurl(_ context.Context, rawURL string) (unfurl.Result, error) {
	if rawURL == f.url {
		return unfurl.NotApplicable(), f.err
	}
	return unfurl.NotApplicable(), nil
}

func TestDispatchReplyFailureIsLogged(t *testing.T) {
	t.Parallel()

	logger, logs := observed()
	replier := &fakeReplier{err: errors.New("channel_not_found")}
	d := New(Config{}, []unfurl.Adapter{&fakeAdapter{name: "one", matches: map[string]bool{"u": true}}},
		replier, nil, nil, nil, logger)

	d.Dispatch(context.Background(), unfurl.LinkEvent{URLs: []string{"u"}})
	require.Len(t, replier.replies, 1, "reply is not retried")
	require.Equal(t, 1, logs.FilterMessage("unfurl reply failed").Len())
}

func TestDispatchPublishesOutcomes(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := New(Config{Topic: "unfurl-outcomes"},
		[]unfurl.Adapter{&fakeAdapter{name: "one", matches: map[string]bool{"u1": true}}},
		&fakeReplier{}, pub, fixedClock{t: now}, &seqIDs{}, nil)

	d.Dispatch(context.Background(), unfurl.LinkEvent{TeamID: "T1", Channel: "C1", URLs: []string{"u1", "u2"}})

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "unfurl-outcomes", msgs[0].Topic)
	first := msgs[0].Payload.(OutcomeEvent)
	second := msgs[1].Payload.(OutcomeEvent)
	require.Equal(t, OutcomeEvent{
		EventID: "id-1", TeamID: "T1", Channel: "C1", URL: "u1",
		Outcome: OutcomeMatched, Adapters: []string{"one"}, Replied: true, At: now,
	}, first)
	require.Equal(t, OutcomeNone, second.Outcome)
	require.False(t, second.Replied)
}

func TestDispatchAppliesEventTimeout(t *testing.T) {
	t.Parallel()

	slow := &deadlineAdapter{}
	d := New(Config{EventTimeout: 20 * time.Millisecond}, []unfurl.Adapter{slow}, nil, nil, nil, nil, nil)
	d.Dispatch(context.Background(), unfurl.LinkEvent{URLs: []string{"u"}})
	require.True(t, slow.sawDeadline)
}

type deadlineAdapter struct{ sawDeadline bool }

func (d *deadlineAdapter) Name() string { return "slow" }

func (d *deadlineAdapter) TryUnfurl(ctx context.Context, _ string) (unfurl.Result, error) {
	_, d.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return unfurl.NotApplicable(), nil
}
