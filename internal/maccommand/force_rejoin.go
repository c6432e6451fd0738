package maccommand

import (
	"context"
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

func handleForceRejoinReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	b, err := rawPayload(cmd, 2)
	if err != nil {
		return err
	}

	v := binary.LittleEndian.Uint16(b)
	p := ForceRejoinParams{
		Period:     uint8(v>>11) & 0x07,
		MaxRetries: uint8(v>>8) & 0x07,
		RejoinType: uint8(v>>4) & 0x07,
		Datarate:   uint8(v) & 0x0f,
	}

	log.WithFields(log.Fields{
		"period":      p.Period,
		"max_retries": p.MaxRetries,
		"rejoin_type": p.RejoinType,
		"dr":          p.Datarate,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("force_rejoin_req received")

	dev.ForceRejoin(p)
	return nil
}
