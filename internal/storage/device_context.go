package storage

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/chirpstack-device-mac/internal/mac"
	"github.com/brocaar/lorawan"
)

const (
	deviceContextKeyTempl = "lora:dev:ctx:%s"
	keyStoreKeyTempl      = "lora:dev:ks:%s"
)

// DeviceContext holds the persisted state of a device.
type DeviceContext struct {
	DevEUI lorawan.EUI64
	MAC    mac.Context

	// KeyStore holds the secure-element key store, wrapped with the KEK.
	KeyStore []byte
}

// SaveDeviceContext saves the given device context.
func SaveDeviceContext(ctx context.Context, dc DeviceContext) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dc.MAC); err != nil {
		return errors.Wrap(err, "gob encode error")
	}

	pipe := RedisClient().TxPipeline()
	pipe.Set(ctx, GetRedisKey(deviceContextKeyTempl, dc.DevEUI), buf.Bytes(), 0)
	if len(dc.KeyStore) != 0 {
		pipe.Set(ctx, GetRedisKey(keyStoreKeyTempl, dc.DevEUI), dc.KeyStore, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "exec error")
	}

	log.WithFields(log.Fields{
		"dev_eui":  dc.DevEUI,
		"dev_addr": dc.MAC.DevAddr,
		"f_cnt_up": dc.MAC.Security.FCntList.FCntUp,
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Info("storage: device context saved")

	return nil
}

// GetDeviceContext returns the device context for the given DevEUI.
func GetDeviceContext(ctx context.Context, devEUI lorawan.EUI64) (DeviceContext, error) {
	dc := DeviceContext{
		DevEUI: devEUI,
	}

	val, err := RedisClient().Get(ctx, GetRedisKey(deviceContextKeyTempl, devEUI)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return dc, ErrDoesNotExist
		}
		return dc, errors.Wrap(err, "get error")
	}

	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&dc.MAC); err != nil {
		return dc, errors.Wrap(err, "gob decode error")
	}

	dc.KeyStore, err = RedisClient().Get(ctx, GetRedisKey(keyStoreKeyTempl, devEUI)).Bytes()
	if err != nil && err != redis.Nil {
		return dc, errors.Wrap(err, "get key store error")
	}

	return dc, nil
}

// DeleteDeviceContext deletes the device context and key store of the given
// DevEUI.
func DeleteDeviceContext(ctx context.Context, devEUI lorawan.EUI64) error {
	val, err := RedisClient().Del(ctx,
		GetRedisKey(deviceContextKeyTempl, devEUI),
		GetRedisKey(keyStoreKeyTempl, devEUI),
	).Result()
	if err != nil {
		return errors.Wrap(err, "delete error")
	}
	if val == 0 {
		return ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"dev_eui": devEUI,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: device context deleted")

	return nil
}
