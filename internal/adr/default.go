package adr

import (
	"github.com/brocaar/chirpstack-device-mac/adr"
)

// DefaultHandler implements the default end-device ADR back-off.
//
// Once AdrAckLimit uplinks have been sent without downlink, the ADRACKReq
// bit is set. After AdrAckDelay more uplinks the tx-power is set to its
// default, after that the data-rate is lowered every AdrAckDelay uplinks.
// At the min. data-rate the default channels are re-enabled.
type DefaultHandler struct{}

// ID returns the default ID.
func (h *DefaultHandler) ID() (string, error) {
	return "default", nil
}

// Name returns the default name.
func (h *DefaultHandler) Name() (string, error) {
	return "Default end-device ADR back-off", nil
}

// CalcNext returns the parameters of the next uplink.
func (h *DefaultHandler) CalcNext(req adr.CalcNextRequest) (adr.CalcNextResponse, error) {
	resp := adr.CalcNextResponse{
		Datarate: req.Datarate,
		TxPower:  req.TxPower,
		NbTrans:  req.NbTrans,
	}

	if !req.AdrEnabled {
		return resp, nil
	}

	if resp.Datarate < req.MinTxDatarate {
		resp.Datarate = req.MinTxDatarate
	}

	limit := uint32(req.AdrAckLimit)
	delay := uint32(req.AdrAckDelay)

	if req.AdrAckCounter >= limit {
		resp.AdrAckReq = true
	}

	if req.AdrAckCounter >= limit+delay {
		resp.TxPower = req.DefaultTxPower
	}

	if req.AdrAckCounter >= limit+(delay<<1) && delay != 0 && (req.AdrAckCounter-limit)%delay == 0 {
		if resp.Datarate == req.MinTxDatarate {
			resp.RestoreDefaultChannels = true
			resp.NbTrans = 1
		}
		resp.Datarate = h.nextLowerDatarate(resp.Datarate, req.MinTxDatarate)
	}

	return resp, nil
}

func (h *DefaultHandler) nextLowerDatarate(dr, minDR int) int {
	if dr <= minDR {
		return minDR
	}
	return dr - 1
}
