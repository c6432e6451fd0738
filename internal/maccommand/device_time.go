package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestDeviceTime adds a DeviceTimeReq to the buffer.
func RequestDeviceTime(b *Buffer) error {
	return b.Add(lorawan.DeviceTimeReq, nil)
}

func handleDeviceTimeAns(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DeviceTimeAnsPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DeviceTimeAnsPayload, got %T", cmd.Payload)
	}

	dev.DeviceTimeAns(pl.TimeSinceGPSEpoch)

	log.WithFields(log.Fields{
		"time_since_gps_epoch": pl.TimeSinceGPSEpoch,
		"ctx_id":               ctx.Value(logging.ContextIDKey),
	}).Info("device_time_ans received")

	return nil
}
