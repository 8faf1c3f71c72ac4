package wsrouter

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wimz-robotics/cloud-relay/connection"
)

// uploadCommands are exempt from the 1 MiB size cap and the staleness
// check, per spec.md §4.2.1 steps 2-3 — large audio payloads are
// expected to arrive slowly and old by the time they land.
var uploadCommands = map[string]bool{
	"upload_song":  true,
	"audio_upload": true,
	"upload_audio": true,
	"upload_file":  true,
}

// handleCommand implements the app-to-robot command forwarding
// pipeline: rate limit, size cap, staleness, target resolution, then
// forward.
func (rt *Router) handleCommand(conn *connection.Connection, userID, ip string, now time.Time, f Frame) {
	cmdType := f.StringField("command")

	if reason := rt.Manager.CheckRateLimit(now, userID, ip, cmdType); reason != nil {
		_ = conn.WriteJSON(ErrorFrame(CodeRateLimited, "rate limit exceeded", map[string]any{
			"count":  reason.Count,
			"window": reason.Window.Seconds(),
			"max":    reason.Max,
		}))
		return
	}

	if encoded, err := json.Marshal(map[string]any(f)); err == nil && int64(len(encoded)) > rt.SoftFrameSize && !uploadCommands[cmdType] {
		_ = conn.WriteJSON(ErrorFrame(CodeMessageTooLarge, "use the HTTP upload endpoint for large payloads", nil))
		return
	}

	if !uploadCommands[cmdType] {
		if ts, ok := parseUnixMillis(f.StringField("timestamp")); ok {
			age := now.Sub(ts)
			if age > rt.StaleCommandAge {
				_ = conn.WriteJSON(ErrorFrame(CodeStaleCommand, "command too old", map[string]any{
					"age_ms": age.Milliseconds(),
				}))
				return
			}
		}
	}

	deviceID := f.StringField("device_id")
	if deviceID == "" {
		deviceID = f.StringField("target_device")
	}
	if deviceID == "" {
		devices := rt.Manager.UserDevices(userID)
		if len(devices) > 0 {
			deviceID = devices[0]
		}
	}
	if deviceID == "" {
		_ = conn.WriteJSON(ErrorFrame(CodeNoDevice, "no target device", nil))
		return
	}

	out := f.Clone()
	out.Strip("device_id", "target_device")

	if err := rt.Manager.ForwardCommand(deviceID, userID, out); err != nil {
		switch err {
		case connection.ErrDeviceNotFound:
			_ = conn.WriteJSON(ErrorFrame(CodeDeviceOffline, "device is not connected", nil))
		case connection.ErrNotAuthorized, connection.ErrNoOwner:
			_ = conn.WriteJSON(ErrorFrame(CodeForwardFailed, "not authorized for this device", nil))
		default:
			rt.Logger.Warn("forward command failed", zap.String("device_id", deviceID), zap.Error(err))
			_ = conn.WriteJSON(ErrorFrame(CodeForwardFailed, "forward failed", nil))
		}
	}
}
