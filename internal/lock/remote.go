package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/gtdsync/gtdsync/internal/transport"
)

// ErrNotLocked is returned by Inspect when no marker exists.
var ErrNotLocked = errors.New("sync is not locked")

// RemoteCoordinator keeps the lock marker on a Transport.
type RemoteCoordinator struct {
	transport transport.Transport
	devices   DeviceSource
	path      string
	logger    *log.Logger
	now       func() time.Time
}

// NewRemoteCoordinator creates a coordinator for the marker at transport.LockPath.
// If logger is nil, a default stderr logger is used.
func NewRemoteCoordinator(t transport.Transport, devices DeviceSource, logger *log.Logger) *RemoteCoordinator {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "lock"})
	}
	return &RemoteCoordinator{
		transport: t,
		devices:   devices,
		path:      transport.LockPath,
		logger:    logger,
		now:       time.Now,
	}
}

// TryAcquire checks for an existing marker and writes one if there is none.
//
//   - marker present: false, nil
//   - marker missing: marker written, true, nil
//   - authentication rejected: false, error wrapping ErrAuthentication
//   - rate limited: false, nil without writing
//   - device id missing or marker cannot be built: false, nil without writing
//   - any other remote failure: false, error
func (c *RemoteCoordinator) TryAcquire(ctx context.Context) (bool, error) {
	meta, err := c.transport.Stat(ctx, c.path)
	switch {
	case err == nil && meta.Size > 0:
		c.logger.Info("sync lock held by another device", "path", c.path, "since", meta.Modified)
		return false, nil
	case err == nil, transport.IsNotFound(err):
		// free
	case transport.IsAuth(err):
		return false, fmt.Errorf("%w: %w", ErrAuthentication, err)
	case transport.IsRateLimited(err):
		c.logger.Warn("rate limited while checking sync lock", "err", err)
		return false, nil
	default:
		return false, fmt.Errorf("failed to check sync lock: %w", err)
	}

	data, err := c.buildMarker(ctx)
	if err != nil {
		c.logger.Warn("cannot create sync lock", "err", err)
		return false, nil
	}

	if err := c.transport.Upload(ctx, data, c.path, true); err != nil {
		return false, fmt.Errorf("failed to create sync lock: %w", err)
	}
	c.logger.Debug("sync lock acquired", "path", c.path)
	return true, nil
}

func (c *RemoteCoordinator) buildMarker(ctx context.Context) ([]byte, error) {
	if c.devices == nil {
		return nil, ErrNoDeviceID
	}
	id, err := c.devices.DeviceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device id: %w", err)
	}
	m, err := NewMarker(id, c.now())
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// Release deletes the marker. Failures are logged by the transport.
func (c *RemoteCoordinator) Release(ctx context.Context) {
	c.transport.Delete(ctx, c.path)
	c.logger.Debug("sync lock released", "path", c.path)
}

// Inspect returns the current marker, or ErrNotLocked if there is none.
func (c *RemoteCoordinator) Inspect(ctx context.Context) (*Marker, error) {
	var buf bytes.Buffer
	ok, err := c.transport.Download(ctx, &buf, c.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLocked
	}
	return DecodeMarker(buf.Bytes())
}
