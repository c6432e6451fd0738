package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handlePingSlotChannelReq sets the ping-slot frequency and data-rate. A
// frequency of 0 restores the default frequency.
func handlePingSlotChannelReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.PingSlotChannelReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.PingSlotChannelReqPayload, got %T", cmd.Payload)
	}

	region := dev.Region()
	ans := lorawan.PingSlotChannelAnsPayload{
		DataRateOK:         region.VerifyRxDatarate(pl.DR),
		ChannelFrequencyOK: pl.Frequency == 0 || region.VerifyFrequency(uint32(pl.Frequency)),
	}

	if ans.DataRateOK && ans.ChannelFrequencyOK {
		dev.PingSlotChannel(uint32(pl.Frequency), pl.DR)
	}

	log.WithFields(log.Fields{
		"frequency":            pl.Frequency,
		"dr":                   pl.DR,
		"data_rate_ok":         ans.DataRateOK,
		"channel_frequency_ok": ans.ChannelFrequencyOK,
		"ctx_id":               ctx.Value(logging.ContextIDKey),
	}).Info("ping_slot_channel_req received")

	return addAnswer(dev, lorawan.MACCommand{
		CID:     lorawan.PingSlotChannelAns,
		Payload: &ans,
	})
}
