package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

func handleRejoinParamSetupReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RejoinParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RejoinParamSetupReqPayload, got %T", cmd.Payload)
	}

	timeOK := dev.RejoinParamSetup(pl.MaxTimeN, pl.MaxCountN)

	log.WithFields(log.Fields{
		"max_time_n":  pl.MaxTimeN,
		"max_count_n": pl.MaxCountN,
		"time_ok":     timeOK,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("rejoin_param_setup_req received")

	return addAnswer(dev, lorawan.MACCommand{
		CID: lorawan.RejoinParamSetupAns,
		Payload: &lorawan.RejoinParamSetupAnsPayload{
			TimeOK: timeOK,
		},
	})
}
