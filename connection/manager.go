package connection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wimz-robotics/cloud-relay/session"
	"github.com/wimz-robotics/cloud-relay/store"
)

// Manager is the central relay state: which robots and apps are
// connected, who owns which device, per-user rate limits, pending
// reconnect grace periods, and the WebRTC session table. It is
// grounded on original_source/app/connection_manager.py's
// ConnectionManager class, restructured around device/manager.go's
// mutex-guarded-table idiom: the coarse lock protects only table
// membership, never a suspension point (socket I/O, HTTP calls,
// timers fire outside it).
type Manager struct {
	opts     *Options
	measures Measures

	pairings store.PairingStore
	status   store.DeviceStatusStore

	mu     sync.RWMutex
	robots map[string]*Connection   // device id -> active robot connection
	apps   map[string][]*Connection // user id -> live app connections
	owners map[string]string        // device id -> owning user id

	limiters map[string]*rateLimitWindow // user id -> sliding window

	grace    *graceState
	sessions *session.Table
}

// NewManager builds a Manager. pairings seeds the device-ownership map
// from the configured store, mirroring ConnectionManager.__init__'s
// call to get_all_device_pairings() at startup.
func NewManager(ctx context.Context, pairings store.PairingStore, status store.DeviceStatusStore, opts *Options, reg Measures) (*Manager, error) {
	m := &Manager{
		opts:     opts,
		measures: reg,
		pairings: pairings,
		status:   status,
		robots:   make(map[string]*Connection),
		apps:     make(map[string][]*Connection),
		owners:   make(map[string]string),
		limiters: make(map[string]*rateLimitWindow),
		grace:    newGraceState(),
		sessions: session.NewTable(),
	}

	if pairings != nil {
		all, err := pairings.GetAllDevicePairings(ctx)
		if err != nil {
			return nil, err
		}
		for deviceID, userID := range all {
			m.owners[deviceID] = userID
		}
	}

	return m, nil
}

// RegisterRobot installs conn as the active connection for deviceID,
// returning the previously active connection if one is displaced. The
// caller is responsible for closing the evicted connection outside any
// lock it holds; Connect in original_source always displaces rather
// than refusing a second connection from the same device.
func (m *Manager) RegisterRobot(deviceID string, conn *Connection) (evicted *Connection) {
	m.mu.Lock()
	evicted = m.robots[deviceID]
	m.robots[deviceID] = conn
	m.mu.Unlock()

	if m.status != nil {
		_ = m.status.SetOnline(context.Background(), deviceID, true)
	}
	m.measures.RobotsConnected.Set(float64(m.robotCount()))
	return evicted
}

// UnregisterRobot removes conn as deviceID's active connection, but
// only if conn is still the one on file — a stale disconnect (from a
// connection that was already displaced by RegisterRobot) must not
// clobber a newer, live connection. Returns whether it actually removed
// an entry.
func (m *Manager) UnregisterRobot(deviceID string, conn *Connection) bool {
	m.mu.Lock()
	removed := false
	if cur, ok := m.robots[deviceID]; ok && cur == conn {
		delete(m.robots, deviceID)
		removed = true
	}
	m.mu.Unlock()

	if removed && m.status != nil {
		_ = m.status.SetOnline(context.Background(), deviceID, false)
	}
	m.measures.RobotsConnected.Set(float64(m.robotCount()))
	return removed
}

// RegisterApp appends conn to userID's set of live app sessions. Unlike
// robots, a user may hold several app connections open at once (phone
// plus tablet, say) per connect_app's append-don't-replace semantics.
func (m *Manager) RegisterApp(userID string, conn *Connection) {
	m.mu.Lock()
	m.apps[userID] = append(m.apps[userID], conn)
	m.mu.Unlock()

	m.measures.AppSessions.Set(float64(m.appCount()))
}

// UnregisterApp removes conn from userID's app session set. Returns
// the number of app connections the user still holds afterward, which
// callers use to decide whether to start a reconnect grace period.
func (m *Manager) UnregisterApp(userID string, conn *Connection) (remaining int) {
	m.mu.Lock()
	list := m.apps[userID]
	for i, c := range list {
		if c == conn {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.apps, userID)
	} else {
		m.apps[userID] = list
	}
	remaining = len(list)
	m.mu.Unlock()

	m.measures.AppSessions.Set(float64(m.appCount()))
	return remaining
}

func (m *Manager) robotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.robots)
}

func (m *Manager) appCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, list := range m.apps {
		n += len(list)
	}
	return n
}

// Robot returns the active connection for deviceID, if any.
func (m *Manager) Robot(deviceID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.robots[deviceID]
	return c, ok
}

// IsRobotOnline reports whether deviceID currently has an active
// connection.
func (m *Manager) IsRobotOnline(deviceID string) bool {
	_, ok := m.Robot(deviceID)
	return ok
}

// IsUserOnline reports whether userID has at least one live app
// connection.
func (m *Manager) IsUserOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.apps[userID]) > 0
}

// UserApps returns a snapshot of userID's live app connections.
func (m *Manager) UserApps(userID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, len(m.apps[userID]))
	copy(out, m.apps[userID])
	return out
}

// AppByKey returns userID's app connection whose Key equals key, if it
// is still live. Used by WebRTC signaling, which is bound to a single
// app connection rather than every session a user holds open.
func (m *Manager) AppByKey(userID, key string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.apps[userID] {
		if c.Key == key {
			return c, true
		}
	}
	return nil, false
}

// SendToRobot writes v to deviceID's active connection. Returns
// ErrDeviceNotFound if the device is not currently connected; callers
// translate this into the DEVICE_OFFLINE relay error.
func (m *Manager) SendToRobot(deviceID string, v any) error {
	conn, ok := m.Robot(deviceID)
	if !ok {
		return ErrDeviceNotFound
	}
	return conn.WriteJSON(v)
}

// SendToUserApps writes v to every live app connection userID holds,
// best-effort: one failing socket does not prevent delivery to the
// others. Returns the number of connections written to successfully.
func (m *Manager) SendToUserApps(userID string, v any) int {
	conns := m.UserApps(userID)
	sent := 0
	for _, c := range conns {
		if err := c.WriteJSON(v); err == nil {
			sent++
		}
	}
	return sent
}

// UserDevices returns every device id currently owned by userID, in
// sorted order so "the user's first owned device" (spec.md §4.2.1 step
// 4, §4.3 step A) is a deterministic choice.
func (m *Manager) UserDevices(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var devices []string
	for deviceID, owner := range m.owners {
		if owner == userID {
			devices = append(devices, deviceID)
		}
	}
	sort.Strings(devices)
	return devices
}

// SetDeviceOwner records userID as deviceID's owner.
func (m *Manager) SetDeviceOwner(ctx context.Context, deviceID, userID string) error {
	m.mu.Lock()
	m.owners[deviceID] = userID
	m.mu.Unlock()

	if m.pairings != nil {
		return m.pairings.CreateDevicePairing(ctx, userID, deviceID)
	}
	return nil
}

// RemoveDeviceOwner clears deviceID's ownership record.
func (m *Manager) RemoveDeviceOwner(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	delete(m.owners, deviceID)
	m.mu.Unlock()

	if m.pairings != nil {
		return m.pairings.DeleteDevicePairing(ctx, deviceID)
	}
	return nil
}

// GetDeviceOwner returns deviceID's owning user id, or ErrNoOwner if
// the device is unpaired.
func (m *Manager) GetDeviceOwner(deviceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.owners[deviceID]
	if !ok {
		return "", ErrNoOwner
	}
	return userID, nil
}

// ForwardCommand relays an app-originated command to deviceID after
// verifying userID actually owns it, mirroring
// forward_command_to_robot's ownership check ahead of delivery.
func (m *Manager) ForwardCommand(deviceID, userID string, v any) error {
	owner, err := m.GetDeviceOwner(deviceID)
	if err != nil {
		m.measures.ForwardTotal.WithLabelValues("not_authorized").Inc()
		return err
	}
	if owner != userID {
		m.measures.ForwardTotal.WithLabelValues("not_authorized").Inc()
		return ErrNotAuthorized
	}

	if err := m.SendToRobot(deviceID, v); err != nil {
		m.measures.ForwardTotal.WithLabelValues("offline").Inc()
		return err
	}
	m.measures.ForwardTotal.WithLabelValues("ok").Inc()
	return nil
}

// ForwardEvent relays a robot-originated event to the device's owner's
// apps, mirroring forward_event_to_owner. Returns ErrNoOwner if the
// device is unpaired; the caller decides whether that is worth logging.
func (m *Manager) ForwardEvent(deviceID string, v any) (int, error) {
	owner, err := m.GetDeviceOwner(deviceID)
	if err != nil {
		m.measures.ForwardTotal.WithLabelValues("not_authorized").Inc()
		return 0, err
	}
	sent := m.SendToUserApps(owner, v)
	m.measures.ForwardTotal.WithLabelValues("ok").Inc()
	return sent, nil
}

// CheckRateLimit applies userID's sliding-window command limit,
// lazily allocating a window on first use. now is threaded through
// explicitly so tests can drive the window deterministically.
func (m *Manager) CheckRateLimit(now time.Time, userID, ip, cmdType string) *RejectReason {
	m.mu.Lock()
	w, ok := m.limiters[userID]
	if !ok {
		w = &rateLimitWindow{}
		m.limiters[userID] = w
	}
	reason := w.check(now, cmdType, ip, userID,
		m.opts.rateLimitMaxCommands(), m.opts.rateLimitWindow(),
		m.opts.diversityWindow(), m.opts.diversityThreshold(),
		m.opts.logger())
	m.mu.Unlock()

	if reason != nil {
		m.measures.RateLimitRejected.Inc()
	}
	return reason
}

// CreateWebRTCSession opens a new signaling session for deviceID,
// evicting and notifying the robot of any prior active session exactly
// as session.Table.Create specifies.
func (m *Manager) CreateWebRTCSession(deviceID, userID, appKey string) *session.Record {
	rec := m.sessions.Create(deviceID, userID, appKey, func(evicted *session.Record) {
		_ = m.SendToRobot(evicted.DeviceID, map[string]any{
			"type":       "webrtc_close",
			"session_id": evicted.SessionID,
		})
	})
	m.measures.WebRTCActive.Set(float64(m.sessions.Len()))
	return rec
}

// CloseWebRTCSession closes sessionID if it is still active, matching
// close_webrtc_session's no-op-on-stale-id invariant: closing a
// sessionID that has already been superseded does nothing, and in
// particular never re-notifies the robot of a session it has already
// moved past.
func (m *Manager) CloseWebRTCSession(sessionID string) (wasActive bool) {
	rec, wasActive := m.sessions.Close(sessionID)
	m.measures.WebRTCActive.Set(float64(m.sessions.Len()))

	if wasActive && rec != nil {
		_ = m.SendToRobot(rec.DeviceID, map[string]any{
			"type":       "webrtc_close",
			"session_id": rec.SessionID,
		})
	}
	return wasActive
}

// WebRTCSession looks up a session record by id.
func (m *Manager) WebRTCSession(sessionID string) (*session.Record, bool) {
	return m.sessions.Get(sessionID)
}

// ActiveWebRTCSession looks up deviceID's currently active session.
func (m *Manager) ActiveWebRTCSession(deviceID string) (*session.Record, bool) {
	return m.sessions.ActiveFor(deviceID)
}

// CleanupRobotSessions removes every WebRTC session for deviceID,
// used on robot disconnect: the robot is already gone, so no close
// notification is sent to it, unlike the superseded-session and
// explicit-close paths.
func (m *Manager) CleanupRobotSessions(deviceID string) []*session.Record {
	removed := m.sessions.RemoveDevice(deviceID)
	m.measures.WebRTCActive.Set(float64(m.sessions.Len()))
	return removed
}

// CleanupAppSessions removes every WebRTC session bound to appKey,
// used on app disconnect when the user retains other live app
// connections (so no grace period is needed).
func (m *Manager) CleanupAppSessions(appKey string) []*session.Record {
	removed := m.sessions.RemoveByAppKey(appKey)
	m.measures.WebRTCActive.Set(float64(m.sessions.Len()))
	return removed
}

// RebindAppSessions re-binds every session tracked under oldAppKey to
// newAppKey, used when a reconnecting app's grace period is cancelled
// and its preserved sessions must follow it to the new connection.
func (m *Manager) RebindAppSessions(oldAppKey, newAppKey string) []*session.Record {
	return m.sessions.RebindAppKey(oldAppKey, newAppKey)
}

// StartGracePeriod begins (or extends) userID's reconnect grace
// window, seeded with appKey — the now-orphaned app connection key
// whose WebRTC sessions must survive for restoration. When the period
// elapses without a cancel, ExecuteGraceCleanup runs automatically.
func (m *Manager) StartGracePeriod(userID, appKey string) {
	m.grace.start(userID, appKey, m.opts.gracePeriod(), func(appKeys []string) {
		m.ExecuteGraceCleanup(userID, appKeys)
		m.measures.GracePeriods.Set(float64(m.grace.count()))
	})
	m.measures.GracePeriods.Set(float64(m.grace.count()))
}

// CancelGracePeriod cancels userID's pending grace timer, if any,
// returning the app keys it had accumulated so the caller can rebind
// their sessions to the reconnecting connection.
func (m *Manager) CancelGracePeriod(userID string) (appKeys []string, cancelled bool) {
	appKeys, cancelled = m.grace.cancel(userID)
	m.measures.GracePeriods.Set(float64(m.grace.count()))
	return appKeys, cancelled
}

// InGracePeriod reports whether userID currently has a pending grace
// timer.
func (m *Manager) InGracePeriod(userID string) bool {
	return m.grace.active(userID)
}

// ExecuteGraceCleanup runs the teardown cascade for a grace period that
// elapsed without a reconnect, mirroring
// ConnectionManager._execute_grace_cleanup: close every session bound
// to the orphaned app keys (which is a no-op for any that a later
// session already superseded), notify every robot the user owns that
// it disconnected, and drop the user's rate-limit window.
func (m *Manager) ExecuteGraceCleanup(userID string, appKeys []string) {
	for _, appKey := range appKeys {
		for _, rec := range m.sessions.ByAppKey(appKey) {
			m.CloseWebRTCSession(rec.SessionID)
		}
	}

	for _, deviceID := range m.UserDevices(userID) {
		_ = m.SendToRobot(deviceID, map[string]any{
			"type": "user_disconnected",
		})
	}

	m.mu.Lock()
	delete(m.limiters, userID)
	m.mu.Unlock()
}

// Stats returns a point-in-time snapshot for the metrics/status
// surface, mirroring get_stats's dict of counts.
type Stats struct {
	RobotsConnected int
	AppConnections  int
	PairedDevices   int
	ActiveSessions  int
	UsersInGrace    int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		RobotsConnected: len(m.robots),
		PairedDevices:   len(m.owners),
	}
	for _, list := range m.apps {
		s.AppConnections += len(list)
	}
	m.mu.RUnlock()

	s.ActiveSessions = m.sessions.Len()
	s.UsersInGrace = m.grace.count()
	return s
}

// Shutdown cancels every pending grace timer so none fires against a
// manager that callers are tearing down.
func (m *Manager) Shutdown() {
	m.grace.stopAll()
}
