package wsrouter

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/wimz-robotics/cloud-relay/connection"
)

// serveRobot completes robot onboarding (spec.md §4.2 step 2) and
// blocks running the message loop until the socket dies, then performs
// the robot disconnect cascade.
func (rt *Router) serveRobot(ws *websocket.Conn, deviceID, ip string) {
	conn := connection.New(ws, connection.RoleRobot, deviceID, deviceID)

	if evicted := rt.Manager.RegisterRobot(deviceID, conn); evicted != nil {
		_ = evicted.Close()
	}

	if owner, err := rt.Manager.GetDeviceOwner(deviceID); err == nil {
		rt.Manager.SendToUserApps(owner, map[string]any{"event": "robot_connected", "device_id": deviceID})
		rt.Manager.SendToUserApps(owner, map[string]any{"type": "robot_status", "device_id": deviceID, "online": true})
	}

	rt.runLoop(conn, deviceID, ip)

	rt.Manager.CleanupRobotSessions(deviceID)
	rt.Manager.UnregisterRobot(deviceID, conn)
	if owner, err := rt.Manager.GetDeviceOwner(deviceID); err == nil {
		rt.Manager.SendToUserApps(owner, map[string]any{"event": "robot_disconnected", "device_id": deviceID})
		rt.Manager.SendToUserApps(owner, map[string]any{"type": "robot_status", "device_id": deviceID, "online": false})
	}
}

// serveApp completes app onboarding (spec.md §4.2 step 3-4) and blocks
// running the message loop until the socket dies, then performs the
// app disconnect cascade (three-way split: other live sessions remain,
// extend grace, or start fresh grace).
func (rt *Router) serveApp(ws *websocket.Conn, userID, ip string) {
	appKey := ksuid.New().String()
	conn := connection.New(ws, connection.RoleApp, userID, appKey)

	rt.Manager.RegisterApp(userID, conn)

	if oldKeys, cancelled := rt.Manager.CancelGracePeriod(userID); cancelled {
		for _, oldKey := range oldKeys {
			for _, rec := range rt.Manager.RebindAppSessions(oldKey, appKey) {
				_ = conn.WriteJSON(map[string]any{"type": "session_restored", "session_id": rec.SessionID, "device_id": rec.DeviceID})
			}
		}
	}

	_ = conn.WriteJSON(map[string]any{"type": "auth_result", "success": true})
	for _, deviceID := range rt.Manager.UserDevices(userID) {
		online := rt.Manager.IsRobotOnline(deviceID)
		_ = conn.WriteJSON(map[string]any{"type": "robot_status", "device_id": deviceID, "online": online})
		if online {
			_ = rt.Manager.SendToRobot(deviceID, map[string]any{"type": "user_connected", "user_id": userID})
		}
	}

	if rt.Dogs != nil && rt.Metrics != nil {
		ctx := context.Background()
		dogs, err := rt.Dogs.GetUserDogs(ctx, userID)
		if err == nil {
			since := time.Now().Truncate(24 * time.Hour)
			for _, dog := range dogs {
				m, err := rt.Metrics.GetMetrics(ctx, dog.ID, userID, since)
				if err != nil {
					continue
				}
				_ = conn.WriteJSON(map[string]any{
					"type":            "metrics_sync",
					"dog_id":          dog.ID,
					"treats":          m.Treats,
					"detections":      m.Detections,
					"missions":        m.Missions,
					"session_seconds": m.SessionSeconds,
				})
			}
		}
	}

	rt.runLoop(conn, userID, ip)

	remaining := rt.Manager.UnregisterApp(userID, conn)
	if remaining > 0 {
		rt.Manager.CleanupAppSessions(appKey)
		return
	}
	rt.Manager.StartGracePeriod(userID, appKey)
}

// runLoop drives the socket-level keepalive (configured ping interval,
// pong timeout) and reads frames until the socket errs or closes,
// dispatching each by tag. Malformed frames are logged and skipped;
// the connection survives per spec.md §7's recovery policy.
func (rt *Router) runLoop(conn *connection.Connection, id, ip string) {
	_ = conn.SetReadDeadline(time.Now().Add(rt.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(rt.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go rt.pingLoop(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			rt.Logger.Debug("malformed frame", zap.String("id", id), zap.Error(err))
			continue
		}

		rt.dispatch(conn, id, ip, frame)
	}
}

// pingLoop sends a WebSocket ping on the configured interval until done
// is closed (the read loop returning, meaning the socket is dead).
func (rt *Router) pingLoop(conn *connection.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(rt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(time.Now().Add(rt.PingInterval)); err != nil {
				return
			}
		}
	}
}

// dispatch implements the full message-type table from spec.md §4.2.
func (rt *Router) dispatch(conn *connection.Connection, id, ip string, f Frame) {
	now := time.Now()

	switch {
	case f.Tag() == "ping":
		_ = conn.WriteJSON(Frame{"type": "pong"})

	case f.Tag() == "auth":
		// Only meaningful as the first frame on the generic path; once
		// the loop is running the connection is already authenticated.

	case f.Tag() == "webrtc_request" && conn.Role == connection.RoleApp:
		rt.handleWebRTCRequest(conn, id, f)

	case f.Tag() == "webrtc_offer" && conn.Role == connection.RoleRobot:
		rt.handleWebRTCOffer(conn, f)

	case f.Tag() == "webrtc_answer" && conn.Role == connection.RoleApp:
		rt.handleWebRTCAnswer(conn, id, f)

	case f.Tag() == "webrtc_ice":
		rt.handleWebRTCIce(conn, f)

	case f.Tag() == "webrtc_close":
		rt.handleWebRTCClose(f)

	case f.Tag() == "status_update" && conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		rt.forwardRobotFrame(id, f)

	case (f.Tag() == "upload_complete" || f.Tag() == "upload_error" || f.Tag() == "upload_result") && conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		f.StampTimestamp(now)
		rt.forwardRobotFrame(id, f)

	case f.Tag() == "audio_state" && conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		rt.forwardRobotFrame(id, f)

	case isScheduleEvent(f.Tag()) && conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		f.StampTimestamp(now)
		rt.forwardRobotFrame(id, f)

	case f.Tag() == "metric_event" && conn.Role == connection.RoleRobot:
		rt.handleMetricEvent(id, f)

	case f.Tag() == "get_status" && conn.Role == connection.RoleApp:
		rt.handleGetStatus(conn, id, f)

	case f.Tag() == "debug_log" && conn.Role == connection.RoleApp:
		rt.Logger.Info("client debug_log", zap.String("user_id", id), zap.Any("frame", map[string]any(f)))

	case f.HasField("command") && conn.Role == connection.RoleApp:
		rt.handleCommand(conn, id, ip, now, f)

	case f.HasField("event") && conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		f.StampTimestamp(now)
		rt.forwardRobotFrame(id, f)

	case conn.Role == connection.RoleRobot:
		f.StampDeviceID(id)
		rt.forwardRobotFrame(id, f)

	default:
		rt.Logger.Debug("unhandled frame", zap.String("tag", f.Tag()), zap.String("id", id))
	}
}

func isScheduleEvent(tag string) bool {
	return tag == "schedule_created" || tag == "schedule_updated" || tag == "schedule_deleted"
}

// forwardRobotFrame delivers a robot-originated frame to the owner's
// apps, logging delivery counts the way upload/audio/schedule/event
// frames require.
func (rt *Router) forwardRobotFrame(deviceID string, f Frame) {
	sent, err := rt.Manager.ForwardEvent(deviceID, f)
	if err != nil {
		rt.Logger.Warn("forward event: no owner", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	rt.Logger.Debug("forwarded event", zap.String("device_id", deviceID), zap.Int("delivered", sent))
}

// handleMetricEvent persists a robot's metric or mission report and
// still forwards the event even if persistence fails, per spec.md §7's
// recovery policy.
func (rt *Router) handleMetricEvent(deviceID string, f Frame) {
	owner, err := rt.Manager.GetDeviceOwner(deviceID)
	if err == nil && rt.Metrics != nil {
		dogID := f.StringField("dog_id")
		missionType := f.StringField("mission_type")
		missionResult := f.StringField("mission_result")

		ctx := context.Background()
		var persistErr error
		if missionType != "" && missionResult != "" {
			details, _ := f["details"].(map[string]any)
			persistErr = rt.Metrics.LogMission(ctx, dogID, owner, missionType, missionResult, details)
		} else {
			metricType := f.StringField("metric_type")
			value, _ := f["value"].(float64)
			persistErr = rt.Metrics.LogMetric(ctx, dogID, owner, metricType, value)
		}
		if persistErr != nil {
			rt.Logger.Warn("dropping metric_event: store failure", zap.String("device_id", deviceID), zap.Error(persistErr))
		}
	}

	f.StampDeviceID(deviceID)
	rt.forwardRobotFrame(deviceID, f)
}

// handleGetStatus answers inline with the device's pairing and online
// state rather than forwarding anything.
func (rt *Router) handleGetStatus(conn *connection.Connection, userID string, f Frame) {
	deviceID := f.StringField("device_id")
	if deviceID == "" {
		devices := rt.Manager.UserDevices(userID)
		if len(devices) > 0 {
			deviceID = devices[0]
		}
	}

	owner, err := rt.Manager.GetDeviceOwner(deviceID)
	_ = conn.WriteJSON(Frame{
		"type":      "status",
		"device_id": deviceID,
		"paired":    err == nil,
		"owner":     owner,
		"online":    rt.Manager.IsRobotOnline(deviceID),
	})
}
