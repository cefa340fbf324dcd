// Package lock implements the advisory remote sync lock.
//
// The lock is a small JSON marker object stored next to the sync blob:
//
//	{"deviceId": "5a0c...", "startTime": "2025-12-03T10:00:00Z"}
//
// Its presence (size > 0) means another device is synchronizing. Acquisition
// is check-then-act: two devices that stat the marker in the same window can
// both see it missing and both write it, the last write winning. The remote
// stores offer no compare-and-swap that all backends share, so the race is
// kept and isolated behind the Coordinator interface.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthentication is returned by TryAcquire when the remote rejects the
	// credentials. It is a configuration problem, distinct from "locked".
	ErrAuthentication = errors.New("authentication failed")

	// ErrNoDeviceID is reported when the local store has no device id.
	ErrNoDeviceID = errors.New("device id not found")
)

// Coordinator guards a sync run across devices.
type Coordinator interface {
	// TryAcquire returns true if the caller now holds the lock. False with a
	// nil error means someone else holds it or acquisition was not possible.
	TryAcquire(ctx context.Context) (bool, error)

	// Release drops the lock. It is idempotent and never fails; problems are
	// logged.
	Release(ctx context.Context)
}

// DeviceSource provides the local device id written into the marker.
type DeviceSource interface {
	DeviceID(ctx context.Context) (string, error)
}

// DeviceSourceFunc adapts a function to DeviceSource.
type DeviceSourceFunc func(ctx context.Context) (string, error)

// DeviceID calls f.
func (f DeviceSourceFunc) DeviceID(ctx context.Context) (string, error) {
	return f(ctx)
}

// Marker is the content of the remote lock object.
type Marker struct {
	DeviceID  string `json:"deviceId"`
	StartTime string `json:"startTime"`
}

// NewMarker builds a marker for deviceID stamped with now in UTC.
func NewMarker(deviceID string, now time.Time) (*Marker, error) {
	if deviceID == "" {
		return nil, ErrNoDeviceID
	}
	return &Marker{
		DeviceID:  deviceID,
		StartTime: now.UTC().Format(time.RFC3339),
	}, nil
}

// Encode returns the marker as compact JSON.
func (m *Marker) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock marker: %w", err)
	}
	return data, nil
}

// Started parses StartTime. A malformed value yields the zero time.
func (m *Marker) Started() time.Time {
	t, err := time.Parse(time.RFC3339, m.StartTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DecodeMarker parses a marker object.
func DecodeMarker(data []byte) (*Marker, error) {
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode lock marker: %w", err)
	}
	return &m, nil
}
