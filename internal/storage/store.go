package storage

import (
	"context"

	"github.com/brocaar/lorawan"
)

// Redis implements the device store on top of the configured Redis client.
type Redis struct{}

// GetDeviceContext returns the device context for the given DevEUI.
func (Redis) GetDeviceContext(ctx context.Context, devEUI lorawan.EUI64) (DeviceContext, error) {
	return GetDeviceContext(ctx, devEUI)
}

// SaveDeviceContext saves the given device context.
func (Redis) SaveDeviceContext(ctx context.Context, dc DeviceContext) error {
	return SaveDeviceContext(ctx, dc)
}

// AddDevNonce adds the given DevNonce to the history.
func (Redis) AddDevNonce(ctx context.Context, devEUI lorawan.EUI64, devNonce uint16) error {
	return AddDevNonce(ctx, devEUI, devNonce)
}

// GetLastDevNonce returns the highest used DevNonce.
func (Redis) GetLastDevNonce(ctx context.Context, devEUI lorawan.EUI64) (uint16, error) {
	return GetLastDevNonce(ctx, devEUI)
}
