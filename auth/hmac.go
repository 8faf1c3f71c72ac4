// Package auth implements the two credential schemes this relay accepts:
// shared-secret HMAC signatures for robots and bearer tokens for apps.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrUnauthorized is returned by both the HMAC and bearer-token verifiers
// on any failure, so callers can treat the two credential schemes
// uniformly when deciding whether to close with code 4001.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Layout identifies one of the five message layouts the HMAC verifier
// will try, in order, against a device's signature.
type Layout int

const (
	// LayoutDeviceTimestamp concatenates device id then timestamp.
	LayoutDeviceTimestamp Layout = iota
	// LayoutDeviceColonTimestamp separates device id and timestamp with ':'.
	LayoutDeviceColonTimestamp
	// LayoutTimestampDevice concatenates timestamp then device id.
	LayoutTimestampDevice
	// LayoutTimestampColonDevice separates timestamp and device id with ':'.
	LayoutTimestampColonDevice
	// LayoutDeviceOnly ignores any timestamp and signs the device id alone.
	// This is the fallback layout, always tried last.
	LayoutDeviceOnly
)

// CanonicalLayout is the layout new firmware should use; see DESIGN.md's
// "Open Questions resolved", item 1.
const CanonicalLayout = LayoutDeviceColonTimestamp

// messageFor builds the signed message for a given layout. With an empty
// timestamp every layout but LayoutDeviceOnly reports false and is
// skipped, so only the device-id-alone message is tried, matching the
// original relay's "always try device_id only as fallback" behavior.
func messageFor(layout Layout, deviceID, timestamp string) (string, bool) {
	switch layout {
	case LayoutDeviceTimestamp:
		if timestamp == "" {
			return "", false
		}
		return deviceID + timestamp, true
	case LayoutDeviceColonTimestamp:
		if timestamp == "" {
			return "", false
		}
		return deviceID + ":" + timestamp, true
	case LayoutTimestampDevice:
		if timestamp == "" {
			return "", false
		}
		return timestamp + deviceID, true
	case LayoutTimestampColonDevice:
		if timestamp == "" {
			return "", false
		}
		return timestamp + ":" + deviceID, true
	case LayoutDeviceOnly:
		return deviceID, true
	default:
		return "", false
	}
}

// orderedLayouts is the sequence spec.md §4.2 mandates: the four
// timestamp-bearing layouts, in order, followed by the device-id-only
// fallback.
var orderedLayouts = []Layout{
	LayoutDeviceTimestamp,
	LayoutDeviceColonTimestamp,
	LayoutTimestampDevice,
	LayoutTimestampColonDevice,
	LayoutDeviceOnly,
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier verifies device HMAC signatures against a shared secret.
type Verifier struct {
	// Secret is the shared HMAC secret provisioned to every device.
	Secret string

	// Legacy enables layouts other than CanonicalLayout. When false,
	// only CanonicalLayout is tried; firmware using any other layout is
	// rejected. Defaults to true to tolerate the heterogeneous firmware
	// fleet already in the field (see DESIGN.md Open Question 1).
	Legacy bool
}

// NewVerifier builds a Verifier with legacy layouts enabled, the
// deployment default.
func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Legacy: true}
}

// Verify tries each applicable layout in order and returns nil if any
// matches, using a constant-time comparison on case-folded hex so that
// timing does not leak which layout (or byte) was correct. It returns
// ErrUnauthorized if none match.
func (v *Verifier) Verify(deviceID, timestamp, signature string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))

	layouts := orderedLayouts
	if !v.Legacy {
		layouts = []Layout{CanonicalLayout}
	}

	for _, layout := range layouts {
		message, ok := messageFor(layout, deviceID, timestamp)
		if !ok {
			continue
		}

		expected := strings.ToLower(sign(v.Secret, message))
		if len(expected) == len(signature) && hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}

	return ErrUnauthorized
}

// Sign produces the signature a device would send for a given layout,
// useful for test fixtures and the registration tooling that provisions
// new devices.
func (v *Verifier) Sign(layout Layout, deviceID, timestamp string) (string, bool) {
	message, ok := messageFor(layout, deviceID, timestamp)
	if !ok {
		return "", false
	}
	return sign(v.Secret, message), true
}
