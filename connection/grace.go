package connection

import (
	"sync"
	"time"
)

// graceRecord is one user's pending reconnect grace period: the timer
// that will fire the teardown cascade, and the set of now-orphaned app
// connection keys whose WebRTC sessions should be rebound if the user
// reconnects before it fires.
type graceRecord struct {
	timer   *time.Timer
	appKeys []string
}

// graceState tracks every user currently within their reconnect grace
// window, grounded on original_source/app/connection_manager.py's
// start_grace_period / cancel_grace_period / _execute_grace_cleanup:
// starting a new period for a user who already has one cancels the old
// timer and merges in the newly orphaned app key, rather than letting
// two cleanups race.
type graceState struct {
	mu      sync.Mutex
	records map[string]*graceRecord
}

func newGraceState() *graceState {
	return &graceState{records: make(map[string]*graceRecord)}
}

// start begins (or extends) userID's grace period. appKey is the app
// connection key whose sessions should be preserved for restoration.
// If userID already has a pending grace record, its timer is reset and
// appKey is merged into the existing set rather than replacing it,
// matching "extend its session list" in spec.md §4.2.
func (g *graceState) start(userID, appKey string, period time.Duration, cleanup func(appKeys []string)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[userID]
	if ok {
		rec.timer.Stop()
		rec.appKeys = appendUnique(rec.appKeys, appKey)
	} else {
		rec = &graceRecord{appKeys: []string{appKey}}
		g.records[userID] = rec
	}

	keys := append([]string(nil), rec.appKeys...)
	rec.timer = time.AfterFunc(period, func() {
		g.mu.Lock()
		delete(g.records, userID)
		g.mu.Unlock()
		cleanup(keys)
	})
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

// cancel stops userID's pending grace timer, if any, and returns the
// app keys it had accumulated so the caller can rebind their sessions
// to the reconnecting connection.
func (g *graceState) cancel(userID string) (appKeys []string, cancelled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[userID]
	if !ok {
		return nil, false
	}
	rec.timer.Stop()
	delete(g.records, userID)
	return rec.appKeys, true
}

// active reports whether userID currently has a pending grace timer.
func (g *graceState) active(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.records[userID]
	return ok
}

// count returns the number of users currently within their grace
// period, used to drive the GracePeriods gauge.
func (g *graceState) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// stopAll cancels every pending timer, used on process shutdown so no
// cleanup callback fires against a manager that is being torn down.
func (g *graceState) stopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for userID, rec := range g.records {
		rec.timer.Stop()
		delete(g.records, userID)
	}
}
