package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/cache"
	"Mansoor88-6/time-tracking/internal/platform"
)

// IDStore persists the device id between runs
type IDStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// DeviceManager handles device ID generation and management
type DeviceManager struct {
	platform platform.Platform
	store    IDStore
	logger   *zap.Logger
}

// NewDeviceManager creates a new device manager. platform and store may be
// nil; the id then falls back to a random uuid that is not persisted.
func NewDeviceManager(p platform.Platform, store IDStore, logger *zap.Logger) *DeviceManager {
	return &DeviceManager{platform: p, store: store, logger: logger}
}

// GetOrGenerateDeviceID resolves the device id: configured value, then the
// cached one, then the platform's machine id, then a fresh uuid. Anything
// resolved past the cache is written back.
func (dm *DeviceManager) GetOrGenerateDeviceID(ctx context.Context, existingID string) (string, error) {
	if existingID != "" {
		return existingID, nil
	}

	if dm.store != nil {
		id, err := dm.store.Get(ctx, cache.KeyDeviceID)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			return "", fmt.Errorf("failed to read device id: %w", err)
		}
	}

	id := ""
	if dm.platform != nil {
		if platformID, err := dm.platform.GetDeviceID(); err == nil {
			id = platformID
		} else {
			dm.logger.Debug("Platform device id unavailable", zap.Error(err))
		}
	}
	if id == "" {
		id = uuid.New().String()
	}

	if dm.store != nil {
		if err := dm.store.Set(ctx, cache.KeyDeviceID, id, 0); err != nil {
			return "", fmt.Errorf("failed to persist device id: %w", err)
		}
	}

	dm.logger.Info("Device id resolved", zap.String("device_id", id))
	return id, nil
}
