package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/cachekey"
)

// Sources is an immutable registry of named upstream data sets.
type Sources struct {
	byName map[string]depot.Source
	names  []string
}

// NewSources indexes srcs by name. Names must be unique and non-empty.
func NewSources(srcs []depot.Source) (*Sources, error) {
	s := &Sources{byName: make(map[string]depot.Source, len(srcs))}
	for _, src := range srcs {
		if src.Name == "" {
			return nil, fmt.Errorf("source with url %q has no name", src.URL)
		}
		if _, dup := s.byName[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		s.byName[src.Name] = src
		s.names = append(s.names, src.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Lookup returns the source registered under name.
func (s *Sources) Lookup(name string) (depot.Source, error) {
	src, ok := s.byName[name]
	if !ok {
		return depot.Source{}, fmt.Errorf("%w: %q", depot.ErrUnknownSource, name)
	}
	return src, nil
}

// Names returns the registered source names in sorted order.
func (s *Sources) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of registered sources.
func (s *Sources) Len() int { return len(s.byName) }

// OptionsFor builds call options for src. Request params override the
// source's default params with the same name.
func OptionsFor(src depot.Source, params map[string]string) Options {
	return Options{
		TTL:     src.TTL,
		Params:  cachekey.Merge(src.Params, params),
		Method:  src.Method,
		Headers: src.Headers,
	}
}

// GetSource is Get for a registered source.
func (c *Cache) GetSource(ctx context.Context, src depot.Source, params map[string]string) (Result, error) {
	return c.Get(ctx, src.Name, src.URL, OptionsFor(src, params))
}

// RefreshSource is RefreshData for a registered source.
func (c *Cache) RefreshSource(ctx context.Context, src depot.Source, params map[string]string) (json.RawMessage, error) {
	return c.RefreshData(ctx, src.Name, src.URL, OptionsFor(src, params))
}

// StartAutoRefresh schedules every source with a positive refresh interval
// and returns how many were scheduled.
func (c *Cache) StartAutoRefresh(srcs *Sources) (int, error) {
	n := 0
	for _, name := range srcs.names {
		src := srcs.byName[name]
		if src.RefreshInterval <= 0 {
			continue
		}
		if err := c.SetAutoRefresh(src.Name, src.URL, src.RefreshInterval, OptionsFor(src, nil)); err != nil {
			return n, fmt.Errorf("auto refresh %q: %w", src.Name, err)
		}
		n++
	}
	return n, nil
}
