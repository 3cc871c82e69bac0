// Package dispatcher runs every registered adapter against the links of one
// event, resolves conflicts and posts a single batched reply.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

const (
	defaultMaxLinks = 3
	tracerName      = "github.com/JakeFAU/crlink-unfurler/internal/dispatcher"
)

// Resolution outcomes, shared by metrics and outcome events.
const (
	OutcomeMatched  = "matched"
	OutcomeNone     = "none"
	OutcomeConflict = "conflict"
	OutcomeFatal    = "fatal"
)

// Config tunes dispatch.
type Config struct {
	MaxLinks     int
	EventTimeout time.Duration
	Topic        string
}

// Resolution is the outcome for one URL.
type Resolution struct {
	URL      string
	Outcome  string
	Adapters []string
	Card     unfurl.Card
}

// OutcomeEvent is published once per resolved URL.
type OutcomeEvent struct {
	EventID   string    `json:"event_id"`
	TeamID    string    `json:"team_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	MessageTS string    `json:"message_ts,omitempty"`
	URL       string    `json:"url"`
	Outcome   string    `json:"outcome"`
	Adapters  []string  `json:"adapters,omitempty"`
	Replied   bool      `json:"replied"`
	At        time.Time `json:"at"`
}

// Dispatcher fans links out to adapters.
type Dispatcher struct {
	cfg       Config
	adapters  []unfurl.Adapter
	replier   unfurl.Replier
	publisher unfurl.Publisher
	clock     unfurl.Clock
	ids       unfurl.IDGenerator
	logger    *zap.Logger
}

// New creates a Dispatcher. publisher, clock and ids may be nil when outcome
// events are disabled.
func New(
	cfg Config,
	adapters []unfurl.Adapter,
	replier unfurl.Replier,
	publisher unfurl.Publisher,
	clock unfurl.Clock,
	ids unfurl.IDGenerator,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		adapters:  adapters,
		replier:   replier,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Dispatch resolves the event's links and posts every matched card in one
// reply. An empty mapping sends nothing. Reply failures are logged and never
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, event unfurl.LinkEvent) {
	if d.cfg.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.EventTimeout)
		defer cancel()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("slack.team_id", event.TeamID),
		attribute.String("slack.channel", event.Channel),
		attribute.Int("unfurl.links", len(event.URLs)),
	)
	logger := d.logger.With(zap.String("channel", event.Channel), zap.String("message_ts", event.MessageTS))

	resolutions := d.Resolve(ctx, event.URLs)
	cards := Cards(resolutions)

	replied := false
	if len(cards) > 0 && d.replier != nil {
		if err := d.replier.Reply(ctx, event, cards); err != nil {
			metrics.ObserveReply("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "reply failed")
			logger.Error("unfurl reply failed", zap.Int("cards", len(cards)), zap.Error(err))
		} else {
			metrics.ObserveReply("ok")
			replied = true
			logger.Info("unfurl reply sent", zap.Int("cards", len(cards)))
		}
	}
	d.publishOutcomes(ctx, event, resolutions, replied)
}

// Resolve runs every adapter against up to MaxLinks distinct URLs. All
// adapter calls run concurrently and are awaited together.
func (d *Dispatcher) Resolve(ctx context.Context, urls []string) []Resolution {
	targets := d.targets(urls)
	out := make([]Resolution, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = d.resolveURL(ctx, target)
		}()
	}
	wg.Wait()
	return out
}

// Cards collects the matched cards keyed by URL.
func Cards(resolutions []Resolution) map[string]unfurl.Card {
	cards := make(map[string]unfurl.Card, len(resolutions))
	for _, r := range resolutions {
		if r.Outcome == OutcomeMatched {
			cards[r.URL] = r.Card
		}
	}
	return cards
}

func (d *Dispatcher) targets(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, min(len(urls), d.cfg.MaxLinks))
	for _, u := range urls {
		if len(out) == d.cfg.MaxLinks {
			break
		}
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

type adapterOutcome struct {
	result unfurl.Result
	err    error
}

func (d *Dispatcher) resolveURL(ctx context.Context, rawURL string) Resolution {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "resolve")
	defer span.End()
	span.SetAttributes(attribute.String("url.full", rawURL))

	outcomes := make([]adapterOutcome, len(d.adapters))

	var wg sync.WaitGroup
	for i, a := range d.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.TryUnfurl(ctx, rawURL)
			outcomes[i] = adapterOutcome{result: res, err: err}
		}()
	}
	wg.Wait()

	res := Resolution{URL: rawURL, Outcome: OutcomeNone}
	var fatal error
	for i, o := range outcomes {
		if o.err != nil {
			fatal = errors.Join(fatal, o.err)
			continue
		}
		if o.result.Matched {
			res.Adapters = append(res.Adapters, d.adapters[i].Name())
			res.Card = o.result.Card
		}
	}

	switch {
	case fatal != nil:
		d.logger.Error("fatal adapter failure, dropping link", zap.String("url", rawURL), zap.Error(fatal))
		res.Outcome, res.Card = OutcomeFatal, unfurl.Card{}
	case len(res.Adapters) > 1:
		d.logger.Error("multiple adapters matched link",
			zap.String("url", rawURL), zap.Strings("adapters", res.Adapters))
		res.Outcome, res.Card = OutcomeConflict, unfurl.Card{}
	case len(res.Adapters) == 1:
		res.Outcome = OutcomeMatched
	}
	span.SetAttributes(
		attribute.String("unfurl.outcome", res.Outcome),
		attribute.StringSlice("unfurl.adapters", res.Adapters),
	)
	metrics.ObserveResolution(res.Outcome)
	return res
}

func (d *Dispatcher) publishOutcomes(ctx context.Context, event unfurl.LinkEvent, resolutions []Resolution, replied bool) {
	if d.publisher == nil || d.ids == nil || d.clock == nil {
		return
	}
	// Outcome events outlive the event deadline.
	ctx = context.WithoutCancel(ctx)
	for _, r := range resolutions {
		id, err := d.ids.NewID()
		if err != nil {
			d.logger.Warn("generate event id", zap.Error(err))
			continue
		}
		ev := OutcomeEvent{
			EventID:   id,
			TeamID:    event.TeamID,
			Channel:   event.Channel,
			MessageTS: event.MessageTS,
			URL:       r.URL,
			Outcome:   r.Outcome,
			Adapters:  r.Adapters,
			Replied:   replied && r.Outcome == OutcomeMatched,
			At:        d.clock.Now(),
		}
		if _, err := d.publisher.Publish(ctx, d.cfg.Topic, ev); err != nil {
			d.logger.Warn("publish outcome event", zap.String("url", r.URL), zap.Error(err))
		}
	}
}
