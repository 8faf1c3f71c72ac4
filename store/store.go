// Package store defines the narrow persistence contracts this relay
// consumes. Per spec.md §1 and §6, the actual backing technology (SQL,
// object storage, whatever) is an external collaborator's concern; this
// package only names the shapes the core depends on.
package store

import (
	"context"
	"time"
)

// Dog is the subset of a dog profile the relay needs to build
// metrics_sync frames.
type Dog struct {
	ID   string
	Name string
}

// Metrics is a dog's aggregated counters for a day, sent to apps as
// metrics_sync frames on connect.
type Metrics struct {
	DogID     string
	Treats    int
	Detections int
	Missions  int
	SessionSeconds int
}

// PairingStore is the authoritative device-to-owner mapping, seeded into
// the in-memory OwnershipMap at process start and mutated through this
// interface whenever a pair/unpair crosses the process boundary.
type PairingStore interface {
	GetDeviceOwner(ctx context.Context, deviceID string) (userID string, ok bool, err error)
	CreateDevicePairing(ctx context.Context, userID, deviceID string) error
	DeleteDevicePairing(ctx context.Context, deviceID string) error
	GetAllDevicePairings(ctx context.Context) (map[string]string, error)
}

// DogStore supplies the dogs owned by a user, for the metrics_sync
// frames emitted when an app connects.
type DogStore interface {
	GetUserDogs(ctx context.Context, userID string) ([]Dog, error)
}

// MetricsStore persists metric and mission events logged by robots, and
// serves aggregated metrics back out.
type MetricsStore interface {
	GetMetrics(ctx context.Context, dogID, userID string, since time.Time) (Metrics, error)
	LogMetric(ctx context.Context, dogID, userID, metricType string, value float64) error
	LogMission(ctx context.Context, dogID, userID, missionType, result string, details map[string]any) error
}

// DeviceStatusStore tracks a device's last-known online/offline status,
// for collaborators outside the live connection table (e.g. a dashboard
// that should reflect status even when the relay restarts).
type DeviceStatusStore interface {
	SetOnline(ctx context.Context, deviceID string, online bool) error
}
