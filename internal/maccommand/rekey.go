package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestRekey adds a RekeyInd with the given LoRaWAN minor version to the
// buffer. It is sent until a RekeyConf is received.
func RequestRekey(b *Buffer, devMinor uint8) error {
	return addCommand(b, lorawan.MACCommand{
		CID: lorawan.RekeyInd,
		Payload: &lorawan.RekeyIndPayload{
			DevLoRaWANVersion: lorawan.Version{Minor: devMinor},
		},
	})
}

func handleRekeyConf(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RekeyConfPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RekeyConfPayload, got %T", cmd.Payload)
	}

	dev.Buffer().Remove(lorawan.RekeyInd)
	dev.RekeyConf(pl.ServLoRaWANVersion.Minor)

	log.WithFields(log.Fields{
		"serv_lorawan_version_minor": pl.ServLoRaWANVersion.Minor,
		"ctx_id":                     ctx.Value(logging.ContextIDKey),
	}).Info("rekey_conf received")

	return nil
}
