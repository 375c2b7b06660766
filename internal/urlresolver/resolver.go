// Package urlresolver maps local drawn-image paths to public URLs.
package urlresolver

import (
	"strings"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// DefaultPlaceholderURL is served for every path when no public base is configured,
// so alerts can run end-to-end without reachable storage.
const DefaultPlaceholderURL = "https://upload.wikimedia.org/wikipedia/en/a/a6/Pok%C3%A9mon_Pikachu_art.png"

// PrefixResolver joins image paths onto a public base URL.
// The raw variant swaps DrawnSegment for RawSegment in the path first.
type PrefixResolver struct {
	Base         string
	Placeholder  string
	DrawnSegment string
	RawSegment   string
}

var _ dispatch.URLResolver = (*PrefixResolver)(nil)

func (p *PrefixResolver) DrawnImageURL(path string) string {
	if p.Base == "" {
		return p.placeholder()
	}
	return join(p.Base, path)
}

func (p *PrefixResolver) RawImageURL(path string) string {
	if p.Base == "" {
		return p.placeholder()
	}
	if p.DrawnSegment != "" && p.RawSegment != "" {
		path = replaceSegment(path, p.DrawnSegment, p.RawSegment)
	}
	return join(p.Base, path)
}

func (p *PrefixResolver) placeholder() string {
	if p.Placeholder == "" {
		return DefaultPlaceholderURL
	}
	return p.Placeholder
}

// Compose builds a resolver from two mapping functions. A nil raw mapping
// falls back to the drawn one.
func Compose(drawn, raw func(path string) string) dispatch.URLResolver {
	if raw == nil {
		raw = drawn
	}
	return funcResolver{drawn: drawn, raw: raw}
}

type funcResolver struct {
	drawn func(string) string
	raw   func(string) string
}

func (f funcResolver) DrawnImageURL(path string) string { return f.drawn(path) }
func (f funcResolver) RawImageURL(path string) string   { return f.raw(path) }

func join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// replaceSegment swaps one whole path segment; partial matches are left alone.
func replaceSegment(path, from, to string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == from {
			parts[i] = to
			break
		}
	}
	return strings.Join(parts, "/")
}
