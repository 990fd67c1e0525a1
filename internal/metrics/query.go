// Package metrics aggregates recorded extraction calls into usage and
// reliability statistics.
package metrics

import (
	"context"

	"github.com/jackzampolin/reask/internal/llmcall"
)

// Query provides aggregate queries over the call store.
type Query struct {
	store *llmcall.Store
}

// NewQuery creates a new metrics query helper.
func NewQuery(store *llmcall.Store) *Query {
	return &Query{store: store}
}

// list returns every call matching f, ignoring its pagination.
func (q *Query) list(ctx context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error) {
	f.Limit = 0
	f.Offset = 0
	return q.store.List(ctx, f)
}

// GetDetailedStats returns call statistics for calls matching the filter.
func (q *Query) GetDetailedStats(ctx context.Context, f llmcall.QueryFilter) (*DetailedStats, error) {
	calls, err := q.list(ctx, f)
	if err != nil {
		return nil, err
	}
	return Stats(calls), nil
}

// GetSessionStats returns session outcome statistics for calls matching the filter.
func (q *Query) GetSessionStats(ctx context.Context, f llmcall.QueryFilter) (*SessionStats, error) {
	calls, err := q.list(ctx, f)
	if err != nil {
		return nil, err
	}
	return Sessions(calls), nil
}

// Report is the combined view printed by `reask calls stats`.
type Report struct {
	Calls        *DetailedStats            `json:"calls" yaml:"calls"`
	Sessions     *SessionStats             `json:"sessions" yaml:"sessions"`
	ByDefinition map[string]*DetailedStats `json:"by_definition,omitempty" yaml:"by_definition,omitempty"`
	ByModel      map[string]*DetailedStats `json:"by_model,omitempty" yaml:"by_model,omitempty"`
}

// GetReport builds a Report from one pass over the matching calls.
func (q *Query) GetReport(ctx context.Context, f llmcall.QueryFilter) (*Report, error) {
	calls, err := q.list(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Report{
		Calls:        Stats(calls),
		Sessions:     Sessions(calls),
		ByDefinition: StatsBy(calls, ByDefinition),
		ByModel:      StatsBy(calls, ByModel),
	}, nil
}
