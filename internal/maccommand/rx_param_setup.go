package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handleRXParamSetupReq validates and applies the RX2 channel and the RX1
// data-rate offset. The RXC channel follows the RX2 channel.
func handleRXParamSetupReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RXParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXParamSetupReqPayload, got %T", cmd.Payload)
	}

	ans := dev.Region().RxParamSetupReq(*pl)

	if ans.ChannelACK && ans.RX2DataRateACK && ans.RX1DROffsetACK {
		params := dev.Params()
		params.Rx1DrOffset = pl.DLSettings.RX1DROffset
		params.Rx2Channel = band.RxChannelParams{
			Frequency: uint32(pl.Frequency),
			Datarate:  pl.DLSettings.RX2DataRate,
		}
		params.RxCChannel = params.Rx2Channel
	}

	log.WithFields(log.Fields{
		"frequency":         pl.Frequency,
		"rx2_dr":            pl.DLSettings.RX2DataRate,
		"rx1_dr_offset":     pl.DLSettings.RX1DROffset,
		"channel_ack":       ans.ChannelACK,
		"rx2_data_rate_ack": ans.RX2DataRateACK,
		"rx1_dr_offset_ack": ans.RX1DROffsetACK,
		"ctx_id":            ctx.Value(logging.ContextIDKey),
	}).Info("rx_param_setup_req received")

	return addAnswer(dev, lorawan.MACCommand{
		CID:     lorawan.RXParamSetupAns,
		Payload: &ans,
	})
}
