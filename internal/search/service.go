package search

import (
	"context"
	"strings"

	slogcontext "github.com/veqryn/slog-context"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		slogcontext.FromCtx(ctx).WarnContext(ctx, "search: meilisearch error, falling back to sql", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slogcontext.FromCtx(ctx).ErrorContext(ctx, "search: sql error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "sql"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "sql"}
}

// Enabled reports whether an external index needs to be kept up to date.
func (s *Service) Enabled() bool {
	return s.meili != nil
}

// IndexLabelClasses pushes records to Meilisearch in the background. Errors
// are logged with the attributes carried by ctx.
func (s *Service) IndexLabelClasses(ctx context.Context, records []LabelClassRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	logger := slogcontext.FromCtx(ctx)
	go func() {
		if err := s.meili.IndexLabelClasses(records); err != nil {
			logger.Warn("search: index label classes", "count", len(records), "error", err)
		}
	}()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
