package maccommand

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handleADRParamSetupReq sets ADR_ACK_LIMIT and ADR_ACK_DELAY, both given as
// exponent of 2.
func handleADRParamSetupReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	b, err := rawPayload(cmd, 1)
	if err != nil {
		return err
	}

	params := dev.Params()
	params.AdrAckLimit = 1 << (b[0] >> 4)
	params.AdrAckDelay = 1 << (b[0] & 0x0f)

	log.WithFields(log.Fields{
		"adr_ack_limit": params.AdrAckLimit,
		"adr_ack_delay": params.AdrAckDelay,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("adr_param_setup_req received")

	return dev.Buffer().Add(ADRParamSetupAns, nil)
}
