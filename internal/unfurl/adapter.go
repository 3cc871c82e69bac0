package unfurl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
)

// Adapter unfurls URLs belonging to one upstream service.
type Adapter interface {
	Name() string
	// TryUnfurl returns NotApplicable for URLs outside the adapter's grammar and
	// for contained upstream failures. The error is reserved for fatal failures.
	TryUnfurl(ctx context.Context, rawURL string) (Result, error)
}

// PayloadRecorder stores upstream bodies that failed to decode.
type PayloadRecorder interface {
	Record(ctx context.Context, source string, body []byte) (string, error)
}

// ParseFunc recognizes a URL and extracts its identifier. It performs no I/O.
type ParseFunc[T any] func(rawURL string) (T, bool)

// FetchFunc fetches upstream content for a parsed identifier and builds a card.
type FetchFunc[T any] func(ctx context.Context, rawURL string, id T) (Card, error)

type options struct {
	logger   *zap.Logger
	recorder PayloadRecorder
}

// Option configures an adapter built by New.
type Option func(*options)

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder captures malformed payloads through r.
func WithRecorder(r PayloadRecorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

type adapter[T any] struct {
	name  string
	parse ParseFunc[T]
	fetch FetchFunc[T]
	options
}

// New composes a parser and a fetcher. The fetcher only runs when the parser
// matches, so foreign URLs never cause network calls.
func New[T any](name string, parse ParseFunc[T], fetch FetchFunc[T], opts ...Option) Adapter {
	a := &adapter[T]{
		name:    name,
		parse:   parse,
		fetch:   fetch,
		options: options{logger: zap.NewNop()},
	}
	for _, opt := range opts {
		opt(&a.options)
	}
	a.logger = a.logger.With(zap.String("adapter", name))
	return a
}

func (a *adapter[T]) Name() string {
	return a.name
}

func (a *adapter[T]) TryUnfurl(ctx context.Context, rawURL string) (Result, error) {
	id, ok := a.parse(rawURL)
	if !ok {
		return NotApplicable(), nil
	}

	card, err := a.fetch(ctx, rawURL, id)
	if err == nil {
		metrics.ObserveAdapterResult(a.name, "matched")
		return Matched(card), nil
	}

	switch {
	case errors.Is(err, ErrFatal):
		metrics.ObserveAdapterResult(a.name, "fatal")
		return NotApplicable(), fmt.Errorf("%s: %w", a.name, err)
	case errors.Is(err, ErrMalformedPayload):
		metrics.ObserveAdapterResult(a.name, "malformed")
		a.logger.Warn("upstream payload did not decode", zap.String("url", rawURL), zap.Error(err))
		a.capture(ctx, err)
	case errors.Is(err, ErrUpstreamUnavailable):
		metrics.ObserveAdapterResult(a.name, "unavailable")
		a.logger.Info("upstream unavailable", zap.String("url", rawURL), zap.Error(err))
	default:
		metrics.ObserveAdapterResult(a.name, "error")
		a.logger.Warn("unfurl failed", zap.String("url", rawURL), zap.Error(err))
	}
	return NotApplicable(), nil
}

func (a *adapter[T]) capture(ctx context.Context, err error) {
	var perr *PayloadError
	if a.recorder == nil || !errors.As(err, &perr) || len(perr.Body) == 0 {
		return
	}
	uri, recErr := a.recorder.Record(ctx, a.name+"/"+perr.Source, perr.Body)
	if recErr != nil {
		a.logger.Warn("capture payload failed", zap.Error(recErr))
		return
	}
	a.logger.Info("captured payload", zap.String("uri", uri))
}
