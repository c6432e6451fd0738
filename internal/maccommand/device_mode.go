package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestDeviceMode adds a DeviceModeInd to the buffer.
func RequestDeviceMode(b *Buffer, class lorawan.DeviceModeClass) error {
	return addCommand(b, lorawan.MACCommand{
		CID: lorawan.DeviceModeInd,
		Payload: &lorawan.DeviceModeIndPayload{
			Class: class,
		},
	})
}

func handleDeviceModeConf(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DeviceModeConfPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DeviceModeConfPayload, got %T", cmd.Payload)
	}

	dev.Buffer().Remove(lorawan.DeviceModeInd)
	dev.DeviceModeConf(pl.Class)

	log.WithFields(log.Fields{
		"class":  pl.Class,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("device_mode_conf received")

	return nil
}
