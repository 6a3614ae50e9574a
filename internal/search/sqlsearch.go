package search

import (
	"context"

	"labeller/api/internal/store"
)

type labelClassFinder interface {
	SearchLabelClasses(ctx context.Context, text string, limit int) ([]store.LabelClass, error)
}

// SQL implements Searcher with a substring match in the relational store.
type SQL struct {
	finder labelClassFinder
}

func NewSQL(finder labelClassFinder) *SQL {
	return &SQL{finder: finder}
}

func (s *SQL) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	classes, err := s.finder.SearchLabelClasses(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(classes) {
		return []Result{}, len(classes), nil
	}

	results := make([]Result, 0, len(classes)-offset)
	for _, c := range classes[offset:] {
		results = append(results, Result{
			ID:        c.ID,
			Name:      c.Name,
			HumanName: c.HumanName,
			GroupID:   c.GroupID,
			Active:    c.Active,
		})
	}
	return results, len(classes), nil
}
