package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// RequestLinkCheck adds a LinkCheckReq to the buffer.
func RequestLinkCheck(b *Buffer) error {
	return b.Add(lorawan.LinkCheckReq, nil)
}

func handleLinkCheckAns(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.LinkCheckAnsPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.LinkCheckAnsPayload, got %T", cmd.Payload)
	}

	dev.LinkCheckAns(pl.Margin, pl.GwCnt)

	log.WithFields(log.Fields{
		"margin": pl.Margin,
		"gw_cnt": pl.GwCnt,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("link_check_ans received")

	return nil
}
