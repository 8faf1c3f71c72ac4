package connection

import "errors"

// Sentinel errors, in the style of device/errors.go: a flat list of
// package-level errors.New values rather than a hierarchy of custom
// types, since none of these need to carry structured data.
var (
	ErrDeviceNotFound = errors.New("connection: device not connected")
	ErrNotAuthorized  = errors.New("connection: user does not own device")
	ErrNoOwner        = errors.New("connection: device has no owner")
)
