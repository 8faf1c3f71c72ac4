package wsrouter

import (
	"context"

	"go.uber.org/zap"

	"github.com/wimz-robotics/cloud-relay/connection"
)

// handleWebRTCRequest implements protocol step A: resolve the target
// device, open a session, mint TURN credentials (closing the session
// again if that fails), and kick off signaling on both sides.
func (rt *Router) handleWebRTCRequest(conn *connection.Connection, userID string, f Frame) {
	deviceID := f.StringField("device_id")
	if deviceID == "" {
		devices := rt.Manager.UserDevices(userID)
		if len(devices) > 0 {
			deviceID = devices[0]
		}
	}

	owner, err := rt.Manager.GetDeviceOwner(deviceID)
	if deviceID == "" || err != nil {
		_ = conn.WriteJSON(ErrorFrame(CodeNoDevice, "device not found", nil))
		return
	}
	if owner != userID {
		_ = conn.WriteJSON(ErrorFrame(CodeNotAuthorized, "device not owned by this user", nil))
		return
	}
	if !rt.Manager.IsRobotOnline(deviceID) {
		_ = conn.WriteJSON(ErrorFrame(CodeDeviceOffline, "device is not connected", nil))
		return
	}

	rec := rt.Manager.CreateWebRTCSession(deviceID, userID, conn.Key)

	creds, err := rt.TURN.GenerateCredentials(context.Background(), rt.TURNTTL)
	if err != nil {
		rt.Manager.CloseWebRTCSession(rec.SessionID)
		rt.Logger.Warn("turn credential mint failed", zap.String("device_id", deviceID), zap.Error(err))
		_ = conn.WriteJSON(ErrorFrame(CodeTURNError, "failed to mint ICE credentials", nil))
		return
	}

	_ = conn.WriteJSON(Frame{"type": "webrtc_credentials", "session_id": rec.SessionID, "ice_servers": creds.IceServers})
	_ = rt.Manager.SendToRobot(deviceID, Frame{"type": "webrtc_request", "session_id": rec.SessionID, "ice_servers": creds.IceServers})
}

// handleWebRTCOffer implements protocol step C: forward a robot's
// offer to the session's app connection, dropping it as stale if the
// session no longer matches this robot or the app has gone away.
func (rt *Router) handleWebRTCOffer(conn *connection.Connection, f Frame) {
	sessionID := f.StringField("session_id")
	rec, ok := rt.Manager.WebRTCSession(sessionID)
	if !ok || rec.DeviceID != conn.ID {
		rt.Logger.Debug("dropping stale webrtc_offer", zap.String("session_id", sessionID))
		return
	}

	app, ok := rt.Manager.AppByKey(rec.UserID, rec.AppKey)
	if !ok {
		rt.Logger.Debug("dropping webrtc_offer: app reference not live", zap.String("session_id", sessionID))
		return
	}
	_ = app.WriteJSON(f)
}

// handleWebRTCAnswer implements protocol step D: forward an app's
// answer to the session's robot, dropping it if the user id on the
// session doesn't match the sender.
func (rt *Router) handleWebRTCAnswer(conn *connection.Connection, userID string, f Frame) {
	sessionID := f.StringField("session_id")
	rec, ok := rt.Manager.WebRTCSession(sessionID)
	if !ok || rec.UserID != userID {
		rt.Logger.Debug("dropping stale webrtc_answer", zap.String("session_id", sessionID))
		return
	}
	_ = rt.Manager.SendToRobot(rec.DeviceID, f)
}

// handleWebRTCIce implements protocol step E: forward an ICE candidate
// to the peer of the originating role, dropping silently on mismatch.
func (rt *Router) handleWebRTCIce(conn *connection.Connection, f Frame) {
	sessionID := f.StringField("session_id")
	rec, ok := rt.Manager.WebRTCSession(sessionID)
	if !ok {
		return
	}

	switch conn.Role {
	case connection.RoleRobot:
		if rec.DeviceID != conn.ID {
			return
		}
		if app, ok := rt.Manager.AppByKey(rec.UserID, rec.AppKey); ok {
			_ = app.WriteJSON(f)
		}
	case connection.RoleApp:
		if rec.AppKey != conn.Key {
			return
		}
		_ = rt.Manager.SendToRobot(rec.DeviceID, f)
	}
}

// handleWebRTCClose implements protocol step F: the active-slot
// comparison and the conditional robot notification both live in
// Manager.CloseWebRTCSession, so this is a thin pass-through.
func (rt *Router) handleWebRTCClose(f Frame) {
	sessionID := f.StringField("session_id")
	rt.Manager.CloseWebRTCSession(sessionID)
}
