package connection

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Role distinguishes the two classes of client this relay brokers for.
type Role int

const (
	// RoleRobot is a field device authenticated by shared-secret HMAC.
	RoleRobot Role = iota
	// RoleApp is a mobile client authenticated by bearer token.
	RoleApp
)

func (r Role) String() string {
	if r == RoleRobot {
		return "robot"
	}
	return "app"
}

// Connection is one active WebSocket with the metadata spec.md §3
// requires: role, identifier, connected-at timestamp, client IP. It is
// created on accept, mutated only by its own message loop and by the
// manager on disconnect, and destroyed when the loop exits.
type Connection struct {
	Role        Role
	ID          string // device id for robots, user id for apps
	ConnectedAt time.Time
	IP          string

	// Key uniquely identifies this specific socket, distinct from ID
	// (an app's ID — its user id — is shared across every session that
	// user holds open). session.Record.AppKey compares against this.
	Key string

	ws *websocket.Conn

	// writeMu serializes writes: gorilla/websocket forbids concurrent
	// writes to the same connection, and both the owning message loop
	// and the manager (relaying a peer's message) may write here.
	writeMu sync.Mutex
}

// New wraps an upgraded websocket connection with relay metadata.
func New(ws *websocket.Conn, role Role, id, key string) *Connection {
	host, _, err := net.SplitHostPort(ws.RemoteAddr().String())
	if err != nil {
		host = ws.RemoteAddr().String()
	}

	return &Connection{
		Role:        role,
		ID:          id,
		Key:         key,
		ConnectedAt: time.Now(),
		IP:          host,
		ws:          ws,
	}
}

// WriteJSON serializes v as a single JSON text frame. It is safe to call
// concurrently with itself and with ReadMessage.
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks for the next text frame. Not safe for concurrent
// invocation (only the owning read pump should call this).
func (c *Connection) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// SetReadDeadline forwards to the underlying socket.
func (c *Connection) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

// SetPongHandler forwards to the underlying socket.
func (c *Connection) SetPongHandler(h func(string) error) { c.ws.SetPongHandler(h) }

// Ping sends a control-frame ping, safe to call concurrently with
// WriteJSON (gorilla multiplexes control frames internally as long as
// writes are serialized, which writeMu guarantees).
func (c *Connection) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close closes the underlying socket. Errors are intentionally ignored
// by callers per spec.md §4.1 ("best-effort close the socket; ignore
// errors"); Close itself still reports the error for callers that care.
func (c *Connection) Close() error {
	return c.ws.Close()
}

// CloseWithStatus sends a close control frame with the given WebSocket
// close code before closing, used for the 4000/4001 auth-failure paths.
func (c *Connection) CloseWithStatus(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}
