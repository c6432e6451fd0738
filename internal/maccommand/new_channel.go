package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

func handleNewChannelReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.NewChannelReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.NewChannelReqPayload, got %T", cmd.Payload)
	}

	ans := dev.Region().NewChannelReq(*pl)

	log.WithFields(log.Fields{
		"ch_index":             pl.ChIndex,
		"frequency":            pl.Freq,
		"min_dr":               pl.MinDR,
		"max_dr":               pl.MaxDR,
		"channel_frequency_ok": ans.ChannelFrequencyOK,
		"data_rate_range_ok":   ans.DataRateRangeOK,
		"ctx_id":               ctx.Value(logging.ContextIDKey),
	}).Info("new_channel_req received")

	return addAnswer(dev, lorawan.MACCommand{
		CID:     lorawan.NewChannelAns,
		Payload: &ans,
	})
}
