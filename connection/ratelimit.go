package connection

import (
	"time"

	"go.uber.org/zap"
)

// rateEntry is one recorded command, timestamped with a monotonic clock
// reading so pruning is immune to wall-clock adjustments.
type rateEntry struct {
	at      time.Time
	cmdType string
}

// rateLimitWindow is the per-user sliding window of recent commands,
// grounded on original_source/app/connection_manager.py's
// check_rate_limit: a deque pruned by cutoff, a hard count check, and
// an independent, non-blocking diversity check for forensic logging.
type rateLimitWindow struct {
	entries []rateEntry
}

// RejectReason explains why check() refused a command.
type RejectReason struct {
	Count  int
	Window time.Duration
	Max    int
}

func (r *RejectReason) Error() string {
	return "rate limited"
}

// check prunes entries older than the window, rejects if the window is
// already at capacity, otherwise records the new entry and returns nil.
// The diversity check runs independently and never blocks — it only
// triggers a forensic warning log via the supplied logger.
func (w *rateLimitWindow) check(now time.Time, cmdType, ip, userID string, maxCommands int, window, diversityWindow time.Duration, diversityThreshold int, logger *zap.Logger) *RejectReason {
	cutoff := now.Add(-window)
	w.entries = pruneBefore(w.entries, cutoff)

	if len(w.entries) >= maxCommands {
		if logger != nil {
			logger.Warn("rate limit blocked",
				zap.String("user_id", userID),
				zap.String("ip", ip),
				zap.String("cmd", cmdType),
				zap.Int("count", len(w.entries)),
				zap.Int("max", maxCommands),
			)
		}
		return &RejectReason{Count: len(w.entries), Window: window, Max: maxCommands}
	}

	w.entries = append(w.entries, rateEntry{at: now, cmdType: cmdType})

	diversityCutoff := now.Add(-diversityWindow)
	seen := make(map[string]struct{})
	for _, e := range w.entries {
		if !e.at.Before(diversityCutoff) {
			seen[e.cmdType] = struct{}{}
		}
	}
	if len(seen) >= diversityThreshold {
		types := make([]string, 0, len(seen))
		for t := range seen {
			types = append(types, t)
		}
		if logger != nil {
			logger.Warn("suspicious command-type diversity",
				zap.String("user_id", userID),
				zap.String("ip", ip),
				zap.Strings("types", types),
				zap.Duration("window", diversityWindow),
			)
		}
	}

	return nil
}

func pruneBefore(entries []rateEntry, cutoff time.Time) []rateEntry {
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}
