package metrics

import "github.com/jackzampolin/reask/internal/llmcall"

// Dimension selects the key calls are grouped by.
type Dimension func(c llmcall.Call) string

// Built-in grouping dimensions.
var (
	ByDefinition Dimension = func(c llmcall.Call) string { return orUnknown(c.Definition) }
	ByProvider   Dimension = func(c llmcall.Call) string { return orUnknown(c.Provider) }
	ByModel      Dimension = func(c llmcall.Call) string { return orUnknown(c.Model) }
)

// StatsBy groups calls by dim and computes stats per group.
func StatsBy(calls []llmcall.Call, dim Dimension) map[string]*DetailedStats {
	groups := make(map[string][]llmcall.Call)
	for _, c := range calls {
		key := dim(c)
		groups[key] = append(groups[key], c)
	}

	result := make(map[string]*DetailedStats, len(groups))
	for key, group := range groups {
		result[key] = Stats(group)
	}
	return result
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
