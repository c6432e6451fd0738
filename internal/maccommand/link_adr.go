package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// handleLinkADRReq handles a LinkADRReq block. The block is validated as a
// whole; the new parameters are only applied when all bits are acknowledged.
// One LinkADRAns is returned per request of the block.
func handleLinkADRReq(ctx context.Context, dev Device, block Block) error {
	params := dev.Params()

	var reqs []lorawan.LinkADRReqPayload
	for _, cmd := range block.MACCommands {
		pl, ok := cmd.Payload.(*lorawan.LinkADRReqPayload)
		if !ok {
			return fmt.Errorf("expected *lorawan.LinkADRReqPayload, got %T", cmd.Payload)
		}
		reqs = append(reqs, *pl)
	}

	res := dev.Region().LinkAdrReq(band.LinkAdrReqParams{
		Requests:        reqs,
		AdrEnabled:      dev.AdrEnabled(),
		CurrentDatarate: params.ChannelsDatarate,
		CurrentTxPower:  params.ChannelsTxPower,
		CurrentNbTrans:  params.ChannelsNbTrans,
		UplinkDwellTime: params.UplinkDwellTime,
	})

	if res.OK() {
		dev.Region().ChanMaskSet(res.ChannelsMask, false)
		params.ChannelsDatarate = res.Datarate
		params.ChannelsTxPower = res.TxPower
		params.ChannelsNbTrans = res.NbTrans
	}

	log.WithFields(log.Fields{
		"block_size":       len(reqs),
		"channel_mask_ack": res.ChannelMaskACK,
		"data_rate_ack":    res.DataRateACK,
		"power_ack":        res.PowerACK,
		"dr":               params.ChannelsDatarate,
		"tx_power":         params.ChannelsTxPower,
		"nb_trans":         params.ChannelsNbTrans,
		"ctx_id":           ctx.Value(logging.ContextIDKey),
	}).Info("link_adr_req received")

	for range reqs {
		if err := addAnswer(dev, lorawan.MACCommand{
			CID: lorawan.LinkADRAns,
			Payload: &lorawan.LinkADRAnsPayload{
				ChannelMaskACK: res.ChannelMaskACK,
				DataRateACK:    res.DataRateACK,
				PowerACK:       res.PowerACK,
			},
		}); err != nil {
			return err
		}
	}

	return nil
}
