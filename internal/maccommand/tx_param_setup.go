package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// maxEIRPTable maps the MaxEIRP index to dBm.
var maxEIRPTable = [16]float32{8, 10, 12, 13, 14, 16, 18, 20, 21, 24, 26, 27, 29, 30, 33, 36}

// handleTXParamSetupReq applies the dwell-time and max. EIRP settings. The
// request is not answered when the region does not implement it.
func handleTXParamSetupReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.TXParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.TXParamSetupReqPayload, got %T", cmd.Payload)
	}

	if !dev.Region().TxParamSetupReq(*pl) {
		log.WithFields(log.Fields{
			"region": dev.Region().Name(),
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Warning("tx_param_setup_req not implemented by region")
		return nil
	}

	params := dev.Params()
	params.UplinkDwellTime = pl.UplinkDwellTime == lorawan.DwellTime400ms
	params.DownlinkDwellTime = pl.DownlinkDwelltime == lorawan.DwellTime400ms
	params.MaxEIRP = maxEIRPTable[pl.MaxEIRP&0x0f]

	log.WithFields(log.Fields{
		"uplink_dwell_time_400ms":   params.UplinkDwellTime,
		"downlink_dwell_time_400ms": params.DownlinkDwellTime,
		"max_eirp":                  params.MaxEIRP,
		"ctx_id":                    ctx.Value(logging.ContextIDKey),
	}).Info("tx_param_setup_req received")

	return addAnswer(dev, lorawan.MACCommand{CID: TXParamSetupAns})
}
