// Package session implements the WebRTC session table: the session-id
// index and the per-device "active slot" pointer, kept atomically
// consistent per spec.md §4.3 and §8's invariants.
package session

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Record is one negotiated (or negotiating) WebRTC session between a
// single app connection and a single robot.
type Record struct {
	SessionID string
	DeviceID  string
	UserID    string
	// AppKey identifies the app connection this session is bound to. The
	// connection package owns the actual socket; the session table only
	// ever compares keys, never dereferences a socket itself, keeping
	// the ownership-cycle shape spec.md §9 calls for (the active slot is
	// a non-owning reference).
	AppKey    string
	CreatedAt time.Time
}

// Table is the global session-id index plus the device active-slot
// index. Both indexes are updated atomically with respect to one
// another, guarded by a single mutex per spec.md §5.
type Table struct {
	mu     sync.Mutex
	byID   map[string]*Record
	active map[string]string // device id -> active session id
}

// NewTable constructs an empty session table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[string]*Record),
		active: make(map[string]string),
	}
}

// EvictFunc is invoked with the session being evicted so the caller can
// notify the robot side before the table forgets it. Create is the only
// method that takes one, and it releases the table's lock before
// invoking it (see below), honoring §5's
// "no I/O while holding a mutable reference across a suspension point".
type EvictFunc func(evicted *Record)

// Create installs a new session for device, evicting any existing active
// session for that device first. notify is called (lock released) for
// the evicted session, if any, mirroring
// ConnectionManager.create_webrtc_session's "close any existing session
// first" rule in the original source.
func (t *Table) Create(deviceID, userID, appKey string, notify EvictFunc) *Record {
	t.mu.Lock()
	var evicted *Record
	if oldID, ok := t.active[deviceID]; ok {
		evicted = t.byID[oldID]
		delete(t.byID, oldID)
		delete(t.active, deviceID)
	}

	record := &Record{
		SessionID: ksuid.New().String(),
		DeviceID:  deviceID,
		UserID:    userID,
		AppKey:    appKey,
		CreatedAt: time.Now(),
	}
	t.byID[record.SessionID] = record
	t.active[deviceID] = record.SessionID
	t.mu.Unlock()

	if evicted != nil && notify != nil {
		notify(evicted)
	}

	return record
}

// Get looks up a session by id.
func (t *Table) Get(sessionID string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[sessionID]
	return r, ok
}

// ActiveFor returns the session currently active for a device, if any.
func (t *Table) ActiveFor(deviceID string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active[deviceID]
	if !ok {
		return nil, false
	}
	r, ok := t.byID[id]
	return r, ok
}

// Close removes sessionID from the routing index. It clears (and
// reports via the bool return) the device's active slot only if
// sessionID is still that slot's value — a close of a session that has
// already been superseded is a pure no-op on the active slot, per
// spec.md §4.3 step F and the round-trip law in §8.
func (t *Table) Close(sessionID string) (record *Record, wasActive bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.byID[sessionID]
	if !ok {
		return nil, false
	}
	delete(t.byID, sessionID)

	if t.active[record.DeviceID] == sessionID {
		delete(t.active, record.DeviceID)
		wasActive = true
	}

	return record, wasActive
}

// RemoveDevice drops every session for a device (routing index and
// active slot), used when a robot socket dies.
func (t *Table) RemoveDevice(deviceID string) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []*Record
	for id, r := range t.byID {
		if r.DeviceID == deviceID {
			removed = append(removed, r)
			delete(t.byID, id)
		}
	}
	delete(t.active, deviceID)
	return removed
}

// ByAppKey returns every session currently bound to appKey without
// removing them, used to seed a grace period: the sessions must stay
// live in both indexes so a reconnect can rebind them.
func (t *Table) ByAppKey(appKey string) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var found []*Record
	for _, r := range t.byID {
		if r.AppKey == appKey {
			found = append(found, r)
		}
	}
	return found
}

// RemoveByAppKey drops every session bound to a dying app connection,
// clearing the active slot for any device whose active session was
// bound to it. Used on app-socket death per spec.md §4.3 "Disconnect
// cleanup"; grace timer expiry closes sessions one by one through the
// connection manager instead.
func (t *Table) RemoveByAppKey(appKey string) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []*Record
	for id, r := range t.byID {
		if r.AppKey == appKey {
			removed = append(removed, r)
			delete(t.byID, id)
			if t.active[r.DeviceID] == id {
				delete(t.active, r.DeviceID)
			}
		}
	}
	return removed
}

// RebindAppKey re-binds every session referencing oldKey to newKey, used
// when an app reconnects and the grace period is canceled before its
// saved sessions are restored (spec.md §4.2 step 3).
func (t *Table) RebindAppKey(oldKey, newKey string) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rebound []*Record
	for _, r := range t.byID {
		if r.AppKey == oldKey {
			r.AppKey = newKey
			rebound = append(rebound, r)
		}
	}
	return rebound
}

// Len reports the number of sessions currently tracked, for stats.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
