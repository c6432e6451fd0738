package maccommand

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handleRXTimingSetupReq sets the delay between the end of the TX and the
// opening of the first reception slot. A delay of 0 means 1 second.
func handleRXTimingSetupReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RXTimingSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXTimingSetupReqPayload, got %T", cmd.Payload)
	}

	delay := pl.Delay & 0x0f
	if delay == 0 {
		delay = 1
	}

	params := dev.Params()
	params.ReceiveDelay1 = time.Duration(delay) * time.Second
	params.ReceiveDelay2 = params.ReceiveDelay1 + time.Second

	log.WithFields(log.Fields{
		"rx_delay": delay,
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Info("rx_timing_setup_req received")

	return addAnswer(dev, lorawan.MACCommand{CID: lorawan.RXTimingSetupAns})
}
