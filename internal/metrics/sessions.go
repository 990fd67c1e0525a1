package metrics

import "github.com/jackzampolin/reask/internal/llmcall"

// SessionStats summarizes how extraction sessions ended. A session
// succeeded when any of its attempts validated; the workflow stops at the
// first one that does.
type SessionStats struct {
	Sessions          int     `json:"sessions" yaml:"sessions"`
	Succeeded         int     `json:"succeeded" yaml:"succeeded"`
	Failed            int     `json:"failed" yaml:"failed"`
	FirstTrySucceeded int     `json:"first_try_succeeded" yaml:"first_try_succeeded"`
	TotalReasks       int     `json:"total_reasks" yaml:"total_reasks"`
	AvgAttempts       float64 `json:"avg_attempts" yaml:"avg_attempts"`
	MaxAttempts       int     `json:"max_attempts" yaml:"max_attempts"`

	// ReaskRecoveryRate is the share of sessions that failed their first
	// attempt but validated on a reask.
	ReaskRecoveryRate float64 `json:"reask_recovery_rate" yaml:"reask_recovery_rate"`
}

type sessionAgg struct {
	attempts  int
	firstOK   bool
	succeeded bool
}

// Sessions groups calls by session and summarizes the outcomes. Calls
// without a session ID are ignored.
func Sessions(calls []llmcall.Call) *SessionStats {
	bySession := make(map[string]*sessionAgg)
	for _, c := range calls {
		if c.SessionID == "" {
			continue
		}
		agg, ok := bySession[c.SessionID]
		if !ok {
			agg = &sessionAgg{}
			bySession[c.SessionID] = agg
		}
		if c.Attempt > agg.attempts {
			agg.attempts = c.Attempt
		}
		if c.Success {
			agg.succeeded = true
			if c.Attempt == 1 {
				agg.firstOK = true
			}
		}
	}

	stats := &SessionStats{Sessions: len(bySession)}
	if stats.Sessions == 0 {
		return stats
	}

	var totalAttempts, recovered, firstFailed int
	for _, agg := range bySession {
		totalAttempts += agg.attempts
		stats.TotalReasks += agg.attempts - 1
		if agg.attempts > stats.MaxAttempts {
			stats.MaxAttempts = agg.attempts
		}
		if agg.succeeded {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if agg.firstOK {
			stats.FirstTrySucceeded++
			continue
		}
		firstFailed++
		if agg.succeeded {
			recovered++
		}
	}

	stats.AvgAttempts = float64(totalAttempts) / float64(stats.Sessions)
	if firstFailed > 0 {
		stats.ReaskRecoveryRate = float64(recovered) / float64(firstFailed)
	}
	return stats
}
