package maccommand

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestPingSlotInfo adds a PingSlotInfoReq with the given periodicity
// (ping period of 2^periodicity seconds) to the buffer.
func RequestPingSlotInfo(b *Buffer, periodicity uint8) error {
	return addCommand(b, lorawan.MACCommand{
		CID: lorawan.PingSlotInfoReq,
		Payload: &lorawan.PingSlotInfoReqPayload{
			Periodicity: periodicity & 0x07,
		},
	})
}

func handlePingSlotInfoAns(ctx context.Context, dev Device) error {
	dev.PingSlotInfoAns()

	log.WithFields(log.Fields{
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("ping_slot_info_ans received")

	return nil
}
