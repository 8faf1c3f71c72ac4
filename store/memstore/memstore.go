// Package memstore is an in-memory reference implementation of the
// store package's interfaces, adapted from the mutex-guarded map idiom
// in the teacher's store/cache.go (a byte-oriented cache there; typed
// domain records here). It exists for tests and local runs; a
// production deployment swaps it for a real adapter without the core
// connection/router/session packages changing at all.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/wimz-robotics/cloud-relay/store"
)

// Store is a single process-local implementation of every external
// interface this relay consumes.
type Store struct {
	mu       sync.RWMutex
	pairings map[string]string // deviceID -> userID
	dogs     map[string][]store.Dog
	metrics  map[string]store.Metrics // dogID -> aggregate
	online   map[string]bool
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		pairings: make(map[string]string),
		dogs:     make(map[string][]store.Dog),
		metrics:  make(map[string]store.Metrics),
		online:   make(map[string]bool),
	}
}

func (s *Store) GetDeviceOwner(_ context.Context, deviceID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.pairings[deviceID]
	return userID, ok, nil
}

func (s *Store) CreateDevicePairing(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairings[deviceID] = userID
	return nil
}

func (s *Store) DeleteDevicePairing(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairings, deviceID)
	return nil
}

func (s *Store) GetAllDevicePairings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.pairings))
	for k, v := range s.pairings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) GetUserDogs(_ context.Context, userID string) ([]store.Dog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Dog(nil), s.dogs[userID]...), nil
}

// SeedDogs is test/bootstrap scaffolding, not part of store.DogStore.
func (s *Store) SeedDogs(userID string, dogs []store.Dog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dogs[userID] = dogs
}

func (s *Store) GetMetrics(_ context.Context, dogID, _ string, _ time.Time) (store.Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[dogID], nil
}

func (s *Store) LogMetric(_ context.Context, dogID, _ string, metricType string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics[dogID]
	m.DogID = dogID
	switch metricType {
	case "treat":
		m.Treats += int(value)
	case "detection":
		m.Detections += int(value)
	case "session_seconds":
		m.SessionSeconds += int(value)
	}
	s.metrics[dogID] = m
	return nil
}

func (s *Store) LogMission(_ context.Context, dogID, _ string, _ string, _ string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics[dogID]
	m.DogID = dogID
	m.Missions++
	s.metrics[dogID] = m
	return nil
}

func (s *Store) SetOnline(_ context.Context, deviceID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[deviceID] = online
	return nil
}

// IsOnline is test scaffolding for asserting status updates landed.
func (s *Store) IsOnline(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[deviceID]
}

var (
	_ store.PairingStore      = (*Store)(nil)
	_ store.DogStore          = (*Store)(nil)
	_ store.MetricsStore      = (*Store)(nil)
	_ store.DeviceStatusStore = (*Store)(nil)
)
