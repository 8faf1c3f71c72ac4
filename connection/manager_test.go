package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wimz-robotics/cloud-relay/store/memstore"
)

// wsPair spins up a one-shot echo-free WebSocket server and dials it,
// returning a server-side and client-side *websocket.Conn wired
// together over a real loopback socket. Connection.WriteJSON requires
// an actual *websocket.Conn, so manager tests exercise it end to end
// rather than through a mock, matching the teacher's own preference for
// real sockets in device package tests.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { _ = serverConn.Close() })

	return serverConn, clientConn
}

func testOptions() *Options {
	return &Options{
		GracePeriod:          50 * time.Millisecond,
		RateLimitWindow:      time.Minute,
		RateLimitMaxCommands: 3,
		DiversityWindow:      10 * time.Second,
		DiversityThreshold:   100,
	}
}

func newTestManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	mgr, err := NewManager(context.Background(), st, st, testOptions(), NewMeasures(nil))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, st
}

func TestRegisterRobotEvictsPriorConnection(t *testing.T) {
	mgr, _ := newTestManager(t)

	serverA, _ := wsPair(t)
	connA := New(serverA, RoleRobot, "robot-1", "a")
	if evicted := mgr.RegisterRobot("robot-1", connA); evicted != nil {
		t.Fatal("expected no eviction on first register")
	}

	serverB, _ := wsPair(t)
	connB := New(serverB, RoleRobot, "robot-1", "b")
	evicted := mgr.RegisterRobot("robot-1", connB)
	if evicted != connA {
		t.Fatal("expected RegisterRobot to evict and return the prior connection")
	}

	cur, ok := mgr.Robot("robot-1")
	if !ok || cur != connB {
		t.Fatal("expected the active connection to be the newest registration")
	}
}

func TestUnregisterRobotIgnoresStaleConnection(t *testing.T) {
	mgr, _ := newTestManager(t)

	serverA, _ := wsPair(t)
	connA := New(serverA, RoleRobot, "robot-1", "a")
	mgr.RegisterRobot("robot-1", connA)

	serverB, _ := wsPair(t)
	connB := New(serverB, RoleRobot, "robot-1", "b")
	mgr.RegisterRobot("robot-1", connB)

	if mgr.UnregisterRobot("robot-1", connA) {
		t.Fatal("unregistering a displaced connection must be a no-op")
	}

	cur, ok := mgr.Robot("robot-1")
	if !ok || cur != connB {
		t.Fatal("the live connection must survive a stale unregister")
	}
}

func TestRegisterAppAppendsRatherThanReplaces(t *testing.T) {
	mgr, _ := newTestManager(t)

	s1, _ := wsPair(t)
	s2, _ := wsPair(t)
	mgr.RegisterApp("user-1", New(s1, RoleApp, "user-1", "session-a"))
	mgr.RegisterApp("user-1", New(s2, RoleApp, "user-1", "session-b"))

	if got := len(mgr.UserApps("user-1")); got != 2 {
		t.Fatalf("expected 2 live app connections, got %d", got)
	}
}

func TestForwardCommandRequiresOwnership(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	serverRobot, _ := wsPair(t)
	mgr.RegisterRobot("robot-1", New(serverRobot, RoleRobot, "robot-1", "r"))

	if err := mgr.ForwardCommand("robot-1", "user-1", map[string]string{"cmd": "drive"}); err != ErrNoOwner {
		t.Fatalf("expected ErrNoOwner for an unpaired device, got %v", err)
	}

	if err := mgr.SetDeviceOwner(ctx, "robot-1", "user-1"); err != nil {
		t.Fatalf("SetDeviceOwner: %v", err)
	}

	if err := mgr.ForwardCommand("robot-1", "user-2", map[string]string{"cmd": "drive"}); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized for a non-owning user, got %v", err)
	}

	if err := mgr.ForwardCommand("robot-1", "user-1", map[string]string{"cmd": "drive"}); err != nil {
		t.Fatalf("expected owner's command to forward cleanly, got %v", err)
	}
}

func TestForwardCommandDeviceOffline(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.SetDeviceOwner(context.Background(), "robot-1", "user-1"); err != nil {
		t.Fatalf("SetDeviceOwner: %v", err)
	}

	if err := mgr.ForwardCommand("robot-1", "user-1", map[string]string{"cmd": "drive"}); err != ErrDeviceNotFound {
		t.Fatalf("expected ErrDeviceNotFound for an offline robot, got %v", err)
	}
}

func TestForwardEventDeliversToOwnersApps(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	if err := mgr.SetDeviceOwner(ctx, "robot-1", "user-1"); err != nil {
		t.Fatalf("SetDeviceOwner: %v", err)
	}

	serverApp, clientApp := wsPair(t)
	mgr.RegisterApp("user-1", New(serverApp, RoleApp, "user-1", "s"))

	sent, err := mgr.ForwardEvent("robot-1", map[string]string{"event": "bark_detected"})
	if err != nil {
		t.Fatalf("ForwardEvent: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}

	_ = clientApp.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := clientApp.ReadMessage()
	if err != nil {
		t.Fatalf("expected the app to receive the forwarded event: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["event"] != "bark_detected" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestCheckRateLimitRejectsAtExactBoundary(t *testing.T) {
	mgr, _ := newTestManager(t)
	now := time.Unix(5000, 0)

	for i := 0; i < 3; i++ {
		if reason := mgr.CheckRateLimit(now, "user-1", "1.2.3.4", "drive"); reason != nil {
			t.Fatalf("command %d should be allowed, got %+v", i, reason)
		}
	}
	if reason := mgr.CheckRateLimit(now, "user-1", "1.2.3.4", "drive"); reason == nil {
		t.Fatal("the command exceeding the configured max must be rejected")
	}
}

func TestWebRTCSessionCreateEvictsPrior(t *testing.T) {
	mgr, _ := newTestManager(t)

	serverRobot, _ := wsPair(t)
	mgr.RegisterRobot("robot-1", New(serverRobot, RoleRobot, "robot-1", "r"))

	first := mgr.CreateWebRTCSession("robot-1", "user-1", "app-key-a")
	second := mgr.CreateWebRTCSession("robot-1", "user-1", "app-key-b")

	if mgr.CloseWebRTCSession(first.SessionID) {
		t.Fatal("closing a superseded session must report wasActive=false")
	}
	if !mgr.CloseWebRTCSession(second.SessionID) {
		t.Fatal("closing the currently active session must report wasActive=true")
	}
}

func TestStartGracePeriodRunsCleanupOnce(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	if err := mgr.SetDeviceOwner(ctx, "robot-1", "user-1"); err != nil {
		t.Fatalf("SetDeviceOwner: %v", err)
	}
	serverRobot, clientRobot := wsPair(t)
	mgr.RegisterRobot("robot-1", New(serverRobot, RoleRobot, "robot-1", "r"))

	mgr.StartGracePeriod("user-1", "app-key-a")
	if !mgr.InGracePeriod("user-1") {
		t.Fatal("expected user to be in grace immediately")
	}

	_ = clientRobot.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientRobot.ReadMessage()
	if err != nil {
		t.Fatalf("expected the robot to receive user_disconnected once grace fires: %v", err)
	}
	if !strings.Contains(string(data), "user_disconnected") {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestCancelGracePeriodPreventsCleanup(t *testing.T) {
	mgr, _ := newTestManager(t)

	mgr.StartGracePeriod("user-1", "app-key-a")
	keys, cancelled := mgr.CancelGracePeriod("user-1")
	if !cancelled {
		t.Fatal("expected cancel to succeed")
	}
	if len(keys) != 1 || keys[0] != "app-key-a" {
		t.Fatalf("expected cancel to return the seeded app key, got %v", keys)
	}

	if mgr.InGracePeriod("user-1") {
		t.Fatal("cancelled user should no longer be in grace")
	}
}


func TestNewManagerSeedsOwnersFromStore(t *testing.T) {
	st := memstore.New()
	if err := st.CreateDevicePairing(context.Background(), "user-9", "robot-9"); err != nil {
		t.Fatalf("seed pairing: %v", err)
	}

	mgr, err := NewManager(context.Background(), st, st, testOptions(), NewMeasures(nil))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	owner, err := mgr.GetDeviceOwner("robot-9")
	if err != nil || owner != "user-9" {
		t.Fatalf("expected robot-9 to be pre-owned by user-9, got %q, err=%v", owner, err)
	}
}
