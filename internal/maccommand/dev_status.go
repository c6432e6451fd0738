package maccommand

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// Battery levels.
const (
	BatteryExternalPower = 0
	BatteryLevelUnknown  = 255
)

// handleDevStatusReq answers with the battery level and the demodulation
// margin (SNR of the request, clamped to the 6 bit range).
func handleDevStatusReq(ctx context.Context, dev Device) error {
	margin := dev.SNR()
	if margin < -32 {
		margin = -32
	}
	if margin > 31 {
		margin = 31
	}

	pl := lorawan.DevStatusAnsPayload{
		Battery: dev.Battery(),
		Margin:  margin,
	}

	log.WithFields(log.Fields{
		"battery": pl.Battery,
		"margin":  pl.Margin,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("dev_status_req received")

	return addAnswer(dev, lorawan.MACCommand{
		CID:     lorawan.DevStatusAns,
		Payload: &pl,
	})
}
