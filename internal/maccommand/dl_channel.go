package maccommand

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handleDLChannelReq sets the RX1 frequency of an uplink channel.
func handleDLChannelReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	b, err := rawPayload(cmd, 4)
	if err != nil {
		return err
	}

	chIndex := b[0]
	freq := (uint32(b[1]) | uint32(b[2])<<8 | uint32(b[3])<<16) * 100

	freqOK, uplinkExists := dev.Region().DlChannelReq(chIndex, freq)

	var status byte
	if freqOK {
		status |= 0x01
	}
	if uplinkExists {
		status |= 0x02
	}

	log.WithFields(log.Fields{
		"ch_index":                chIndex,
		"frequency":               freq,
		"channel_frequency_ok":    freqOK,
		"uplink_frequency_exists": uplinkExists,
		"ctx_id":                  ctx.Value(logging.ContextIDKey),
	}).Info("dl_channel_req received")

	return dev.Buffer().Add(DLChannelAns, []byte{status})
}
