package server

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/datacache"
)

const (
	cacheHeader = "X-Cache"
	fieldsParam = "fields"
)

var (
	hitValue  = []string{"hit"}
	missValue = []string{"miss"}
)

// requestParams turns the query string into cache params. The fields
// parameter only shapes the response and is not part of the key.
func requestParams(q url.Values) map[string]string {
	var params map[string]string
	for k, vs := range q {
		if k == fieldsParam || len(vs) == 0 {
			continue
		}
		if params == nil {
			params = make(map[string]string, len(q))
		}
		params[k] = vs[0]
	}
	return params
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (depot.Source, bool) {
	src, err := s.deps.Sources.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return depot.Source{}, false
	}
	return src, true
}

func (s *server) handleGetData(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	res, err := s.deps.Cache.GetSource(r.Context(), src, requestParams(q))
	if err != nil {
		level := slog.LevelWarn
		if errorStatus(err) == statusClientClosedRequest {
			level = slog.LevelDebug
		}
		slog.LogAttrs(r.Context(), level, "data request failed",
			slog.String("source", src.Name),
			slog.String("error", err.Error()),
			slog.String("request_id", depot.RequestIDFromContext(r.Context())),
		)
		writeError(w, err)
		return
	}

	if res.Hit {
		w.Header()[cacheHeader] = hitValue
	} else {
		w.Header()[cacheHeader] = missValue
	}
	writeRaw(w, http.StatusOK, project(res.Data, splitFields(q.Get(fieldsParam))))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data, err := s.deps.Cache.RefreshSource(r.Context(), src, requestParams(r.URL.Query()))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header()[cacheHeader] = missValue
	writeRaw(w, http.StatusOK, data)
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	opts := datacache.OptionsFor(src, requestParams(r.URL.Query()))
	s.deps.Cache.Invalidate(src.Name, opts.Params)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handlePurge(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Purge()
	slog.LogAttrs(r.Context(), slog.LevelInfo, "cache purged",
		slog.String("request_id", depot.RequestIDFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

type sourceInfo struct {
	Name string `json:"name"`
	TTL  string `json:"ttl"`
}

func (s *server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Sources.Names()
	out := make([]sourceInfo, 0, len(names))
	for _, n := range names {
		src, _ := s.deps.Sources.Lookup(n)
		out = append(out, sourceInfo{Name: n, TTL: src.TTL.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}
