package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestReset adds a ResetInd with the given LoRaWAN minor version to the
// buffer. It is sent until a ResetConf is received.
func RequestReset(b *Buffer, devMinor uint8) error {
	return addCommand(b, lorawan.MACCommand{
		CID: lorawan.ResetInd,
		Payload: &lorawan.ResetIndPayload{
			DevLoRaWANVersion: lorawan.Version{Minor: devMinor},
		},
	})
}

func handleResetConf(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.ResetConfPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.ResetConfPayload, got %T", cmd.Payload)
	}

	dev.Buffer().Remove(lorawan.ResetInd)
	dev.ResetConf(pl.ServLoRaWANVersion.Minor)

	log.WithFields(log.Fields{
		"serv_lorawan_version_minor": pl.ServLoRaWANVersion.Minor,
		"ctx_id":                     ctx.Value(logging.ContextIDKey),
	}).Info("reset_conf received")

	return nil
}

func addCommand(b *Buffer, cmd lorawan.MACCommand) error {
	bb, err := cmd.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal mac-command error: %s", err)
	}
	return b.Add(cmd.CID, bb[1:])
}
