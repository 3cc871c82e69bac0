// Package adapters holds one subpackage per upstream service that can be
// unfurled. Each subpackage exposes a pure URL parser and a NewAdapter
// constructor that composes the parser with the service's content fetcher.
package adapters
