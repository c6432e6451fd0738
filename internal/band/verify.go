package band

import (
	"github.com/brocaar/lorawan"
)

const (
	keepCurrent = 0x0f

	chMaskCntlChannelBlock = 0
	chMaskCntlAllOn        = 6
)

// LinkAdrReq validates a LinkADRReq block. The channel mask is built from all
// the requests of the block, the data-rate, TX power and NbTrans are taken
// from the last request. Nothing is applied to the region state; the
// returned ChannelsMask must be applied with ChanMaskSet when the result is
// OK.
func (r *dynamicRegion) LinkAdrReq(p LinkAdrReqParams) LinkAdrReqResult {
	out := LinkAdrReqResult{
		ChannelMaskACK: true,
		DataRateACK:    true,
		PowerACK:       true,
		Datarate:       p.CurrentDatarate,
		TxPower:        p.CurrentTxPower,
		NbTrans:        p.CurrentNbTrans,
		ChannelsMask:   make([]uint16, len(r.state.ChannelsMask)),
	}
	copy(out.ChannelsMask, r.state.ChannelsMask)

	if len(p.Requests) == 0 {
		out.ChannelMaskACK = false
		out.DataRateACK = false
		out.PowerACK = false
		return out
	}

	for _, req := range p.Requests {
		switch req.Redundancy.ChMaskCntl {
		case chMaskCntlChannelBlock:
			var mask uint16
			for i, on := range req.ChMask {
				if !on {
					continue
				}
				if i >= len(r.state.Channels) || r.state.Channels[i].Frequency == 0 {
					out.ChannelMaskACK = false
				}
				mask |= 1 << uint(i)
			}
			out.ChannelsMask[0] = mask
		case chMaskCntlAllOn:
			for i, c := range r.state.Channels {
				if c.Frequency != 0 {
					out.ChannelsMask[i/16] |= 1 << uint(i%16)
				}
			}
		default:
			out.ChannelMaskACK = false
		}
	}

	if maskIsZero(out.ChannelsMask) {
		out.ChannelMaskACK = false
	}

	last := p.Requests[len(p.Requests)-1]

	if last.DataRate != keepCurrent {
		dr := last.DataRate
		if !p.AdrEnabled || !r.VerifyTxDatarate(dr, p.UplinkDwellTime) || !r.drSupported(dr, out.ChannelsMask) {
			out.DataRateACK = false
		} else {
			out.Datarate = dr
		}
	}

	if last.TXPower != keepCurrent {
		power := int8(last.TXPower)
		if !p.AdrEnabled || !r.VerifyTxPower(power) {
			out.PowerACK = false
		} else {
			out.TxPower = power
		}
	}

	out.NbTrans = last.Redundancy.NbRep
	if out.NbTrans == 0 {
		out.NbTrans = 1
	}

	if !out.OK() {
		out.Datarate = p.CurrentDatarate
		out.TxPower = p.CurrentTxPower
		out.NbTrans = p.CurrentNbTrans
		copy(out.ChannelsMask, r.state.ChannelsMask)
	}

	return out
}

// drSupported returns true when at least one channel enabled in the given
// mask supports the data-rate.
func (r *dynamicRegion) drSupported(dr uint8, mask []uint16) bool {
	for _, i := range r.enabledChannels(mask) {
		c := r.state.Channels[i]
		if dr >= c.MinDR && dr <= c.MaxDR {
			return true
		}
	}
	return false
}

func (r *dynamicRegion) RxParamSetupReq(pl lorawan.RXParamSetupReqPayload) lorawan.RXParamSetupAnsPayload {
	return lorawan.RXParamSetupAnsPayload{
		ChannelACK:     r.VerifyFrequency(uint32(pl.Frequency)),
		RX2DataRateACK: r.VerifyRxDatarate(pl.DLSettings.RX2DataRate),
		RX1DROffsetACK: pl.DLSettings.RX1DROffset <= r.params.defaults.MaxRx1DROffset,
	}
}

// NewChannelReq validates the request and, when valid, adds (or removes when
// the frequency is 0) the channel.
func (r *dynamicRegion) NewChannelReq(pl lorawan.NewChannelReqPayload) lorawan.NewChannelAnsPayload {
	var out lorawan.NewChannelAnsPayload
	i := int(pl.ChIndex)
	freq := uint32(pl.Freq)

	if freq == 0 {
		ok := r.ChannelsRemove(i)
		out.ChannelFrequencyOK = ok
		out.DataRateRangeOK = ok
		return out
	}

	d := r.params.defaults
	out.DataRateRangeOK = pl.MinDR <= pl.MaxDR && pl.MinDR >= d.MinTxDatarate && pl.MaxDR <= d.MaxTxDatarate
	out.ChannelFrequencyOK = r.VerifyFrequency(freq)

	if i < r.params.defaultChannels {
		// the default channels can not be modified
		c := r.state.Channels[i]
		if c.Frequency != freq {
			out.ChannelFrequencyOK = false
		}
		if c.MinDR != pl.MinDR || c.MaxDR != pl.MaxDR {
			out.DataRateRangeOK = false
		}
		return out
	}

	if i >= d.MaxChannels {
		out.ChannelFrequencyOK = false
		out.DataRateRangeOK = false
		return out
	}

	if !out.ChannelFrequencyOK || !out.DataRateRangeOK {
		return out
	}

	if err := r.ChannelAdd(i, Channel{
		Frequency: freq,
		MinDR:     pl.MinDR,
		MaxDR:     pl.MaxDR,
	}); err != nil {
		out.ChannelFrequencyOK = false
		out.DataRateRangeOK = false
	}

	return out
}

// TxParamSetupReq returns false when the region does not implement the
// TXParamSetupReq command. In that case the command is not answered.
func (r *dynamicRegion) TxParamSetupReq(pl lorawan.TXParamSetupReqPayload) bool {
	return r.params.txParamSetup
}

func (r *dynamicRegion) DlChannelReq(chIndex uint8, freq uint32) (bool, bool) {
	i := int(chIndex)
	freqOK := r.VerifyFrequency(freq)

	uplinkExists := i < len(r.state.Channels) && r.state.Channels[i].Frequency != 0
	if freqOK && uplinkExists {
		r.state.Channels[i].Rx1Frequency = freq
	}

	return freqOK, uplinkExists
}
