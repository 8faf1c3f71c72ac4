package wsrouter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"go.uber.org/zap"

	"github.com/wimz-robotics/cloud-relay/auth"
	"github.com/wimz-robotics/cloud-relay/connection"
	"github.com/wimz-robotics/cloud-relay/store"
	"github.com/wimz-robotics/cloud-relay/turn"
	"github.com/wimz-robotics/cloud-relay/xhttp"
)

// Router wires the connection manager, the auth primitives, the TURN
// client, and the external stores into the three WebSocket accept
// paths spec.md §6 names. cmd/relay/main.go constructs exactly one per
// process, alongside the one connection.Manager it's built from.
type Router struct {
	Manager *connection.Manager
	HMAC    *auth.Verifier
	Tokens  *auth.TokenCodec
	TURN    *turn.Client

	Dogs    store.DogStore
	Metrics store.MetricsStore
	Status  store.DeviceStatusStore

	Logger *zap.Logger

	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxFrameSize    int64
	SoftFrameSize   int64
	TURNTTL         time.Duration
	StaleCommandAge time.Duration
	MaxConnections  int

	upgrader websocket.Upgrader
}

// NewRouter builds a Router ready to have its routes registered.
func NewRouter(mgr *connection.Manager, hmac *auth.Verifier, tokens *auth.TokenCodec, turnClient *turn.Client, dogs store.DogStore, metrics store.MetricsStore, status store.DeviceStatusStore, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Manager:         mgr,
		HMAC:            hmac,
		Tokens:          tokens,
		TURN:            turnClient,
		Dogs:            dogs,
		Metrics:         metrics,
		Status:          status,
		Logger:          logger,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxFrameSize:    20 << 20,
		SoftFrameSize:   1 << 20,
		TURNTTL:         24 * time.Hour,
		StaleCommandAge: 2000 * time.Millisecond,
		MaxConnections:  10000,
		upgrader:        websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Routes registers the three WebSocket accept paths plus the stats/health
// HTTP surface on m. The accept paths are wrapped in an Alice chain that
// caps concurrent upgraded connections at MaxConnections: a request past
// the cap waits for a free slot and is answered 503 only if its context
// ends before one frees up.
func (rt *Router) Routes(m *mux.Router) {
	gate := alice.New(xhttp.Busy(rt.MaxConnections, rt.Logger))
	withServerHeader := alice.New(xhttp.StaticHeaders(http.Header{"Server": []string{"wimz-cloud-relay"}}))

	m.Handle("/ws/device", gate.ThenFunc(rt.handleDevicePath)).Methods(http.MethodGet)
	m.Handle("/ws/app", gate.ThenFunc(rt.handleAppPath)).Methods(http.MethodGet)
	m.Handle("/ws", gate.ThenFunc(rt.handleGenericPath)).Methods(http.MethodGet)

	m.Handle("/healthz", withServerHeader.ThenFunc(rt.handleHealth)).Methods(http.MethodGet)
	m.Handle("/stats", withServerHeader.ThenFunc(rt.handleStats)).Methods(http.MethodGet)
}

func (rt *Router) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	ws, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.Logger.Debug("upgrade failed", zap.Error(err))
		return nil, false
	}
	ws.SetReadLimit(rt.MaxFrameSize)
	return ws, true
}

// handleDevicePath authenticates a robot via query or header
// device_id/sig(/timestamp), closing with 4000 on missing parameters
// and 4001 on a bad signature.
func (rt *Router) handleDevicePath(w http.ResponseWriter, r *http.Request) {
	ws, ok := rt.upgrade(w, r)
	if !ok {
		return
	}

	deviceID := firstNonEmpty(r.URL.Query().Get("device_id"), r.Header.Get("X-Device-Id"))
	sig := firstNonEmpty(r.URL.Query().Get("sig"), r.Header.Get("X-Device-Signature"))
	timestamp := firstNonEmpty(r.URL.Query().Get("timestamp"), r.Header.Get("X-Device-Timestamp"))

	if deviceID == "" || sig == "" {
		closeWith(ws, CloseBadRequest, "missing device_id or sig")
		return
	}
	if err := rt.HMAC.Verify(deviceID, timestamp, sig); err != nil {
		closeWith(ws, CloseUnauthorized, "bad signature")
		return
	}

	rt.serveRobot(ws, deviceID, clientIP(r))
}

// handleAppPath authenticates an app via a bearer query token.
func (rt *Router) handleAppPath(w http.ResponseWriter, r *http.Request) {
	ws, ok := rt.upgrade(w, r)
	if !ok {
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		closeWith(ws, CloseUnauthorized, "missing token")
		return
	}
	claims, err := rt.Tokens.Verify(token)
	if err != nil || claims.UserID() == "" {
		closeWith(ws, CloseUnauthorized, "bad or expired token")
		return
	}

	rt.serveApp(ws, claims.UserID(), clientIP(r))
}

// handleGenericPath accepts without credentials and expects the first
// frame to be an auth message.
func (rt *Router) handleGenericPath(w http.ResponseWriter, r *http.Request) {
	ws, ok := rt.upgrade(w, r)
	if !ok {
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		closeWith(ws, CloseBadRequest, "no auth frame")
		return
	}

	frame, err := ParseFrame(data)
	if err != nil || frame.Tag() != "auth" {
		closeWith(ws, CloseBadRequest, "malformed first frame")
		return
	}

	ip := clientIP(r)
	deviceID := frame.StringField("device_id")
	token := frame.StringField("token")

	switch {
	case deviceID != "":
		sig := frame.StringField("sig")
		timestamp := frame.StringField("timestamp")
		if sig == "" {
			closeWith(ws, CloseBadRequest, "missing sig")
			return
		}
		if err := rt.HMAC.Verify(deviceID, timestamp, sig); err != nil {
			closeWith(ws, CloseUnauthorized, "bad signature")
			return
		}
		rt.serveRobot(ws, deviceID, ip)

	case token != "":
		claims, err := rt.Tokens.Verify(token)
		if err != nil || claims.UserID() == "" {
			closeWith(ws, CloseUnauthorized, "bad or expired token")
			return
		}
		rt.serveApp(ws, claims.UserID(), ip)

	default:
		closeWith(ws, CloseBadRequest, "auth frame missing device_id and token")
	}
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

func parseUnixMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
