package wsrouter

// Inline error codes surfaced to clients in an ErrorFrame, per
// spec.md §7's taxonomy.
const (
	CodeNoDevice        = "NO_DEVICE"
	CodeNotAuthorized   = "NOT_AUTHORIZED"
	CodeDeviceOffline   = "DEVICE_OFFLINE"
	CodeTURNError       = "TURN_ERROR"
	CodeForwardFailed   = "FORWARD_FAILED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeStaleCommand    = "STALE_COMMAND"
	CodeMessageTooLarge = "MESSAGE_TOO_LARGE"
)

// WebSocket close codes used at accept time and on hard auth failure.
const (
	CloseBadRequest    = 4000
	CloseUnauthorized  = 4001
)
