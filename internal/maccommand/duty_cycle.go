package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

func handleDutyCycleReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DutyCycleReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DutyCycleReqPayload, got %T", cmd.Payload)
	}

	params := dev.Params()
	params.MaxDCycle = pl.MaxDCycle & 0x0f
	params.AggregatedDCycle = 1 << params.MaxDCycle

	log.WithFields(log.Fields{
		"max_dcycle":        params.MaxDCycle,
		"aggregated_dcycle": params.AggregatedDCycle,
		"ctx_id":            ctx.Value(logging.ContextIDKey),
	}).Info("duty_cycle_req received")

	return addAnswer(dev, lorawan.MACCommand{CID: DutyCycleAns})
}
