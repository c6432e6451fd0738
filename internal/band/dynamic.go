package band

import (
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// maxFCntGap is the max. frame-counter gap (MAX_FCNT_GAP) of all regions.
const maxFCntGap = 16384

// dynamicRegion implements the Region interface for the dynamic channel plan
// regions (EU868, AS923).
type dynamicRegion struct {
	params      regionParams
	band        loraband.Band
	uplinkDwell bool
	state       State
}

func (r *dynamicRegion) Name() string {
	return r.params.name
}

func (r *dynamicRegion) Defaults() Defaults {
	d := r.params.defaults
	bd := r.band.GetDefaults()

	d.ReceiveDelay1 = bd.ReceiveDelay1
	d.ReceiveDelay2 = bd.ReceiveDelay2
	d.JoinAcceptDelay1 = bd.JoinAcceptDelay1
	d.JoinAcceptDelay2 = bd.JoinAcceptDelay2
	d.MaxFCntGap = maxFCntGap
	d.Rx2Channel = RxChannelParams{
		Frequency: uint32(bd.RX2Frequency),
		Datarate:  uint8(bd.RX2DataRate),
	}

	if r.uplinkDwell && d.Datarate < r.params.uplinkDwellMinDR {
		d.Datarate = r.params.uplinkDwellMinDR
	}

	return d
}

func (r *dynamicRegion) InitDefaults() {
	maxChannels := r.params.defaults.MaxChannels

	r.state = State{
		Channels:            make([]Channel, maxChannels),
		ChannelsMask:        make([]uint16, (maxChannels+15)/16),
		ChannelsDefaultMask: make([]uint16, (maxChannels+15)/16),
		Bands:               make([]Band, len(r.params.bands)),
	}
	copy(r.state.Bands, r.params.bands)

	for i := 0; i < r.params.defaultChannels; i++ {
		c, err := r.band.GetUplinkChannel(i)
		if err != nil {
			continue
		}

		r.state.Channels[i] = Channel{
			Frequency: uint32(c.Frequency),
			MinDR:     uint8(c.MinDR),
			MaxDR:     uint8(c.MaxDR),
			Band:      r.bandForFrequency(uint32(c.Frequency)),
		}
		r.state.ChannelsDefaultMask[i/16] |= 1 << uint(i%16)
	}
	copy(r.state.ChannelsMask, r.state.ChannelsDefaultMask)
}

func (r *dynamicRegion) State() State {
	s := State{
		Channels:            make([]Channel, len(r.state.Channels)),
		ChannelsMask:        make([]uint16, len(r.state.ChannelsMask)),
		ChannelsDefaultMask: make([]uint16, len(r.state.ChannelsDefaultMask)),
		Bands:               make([]Band, len(r.state.Bands)),
	}
	copy(s.Channels, r.state.Channels)
	copy(s.ChannelsMask, r.state.ChannelsMask)
	copy(s.ChannelsDefaultMask, r.state.ChannelsDefaultMask)
	copy(s.Bands, r.state.Bands)
	return s
}

func (r *dynamicRegion) SetState(s State) error {
	if len(s.Channels) != r.params.defaults.MaxChannels {
		return errors.Wrap(ErrInvalidChannel, "channel count mismatch")
	}
	if len(s.Bands) != len(r.params.bands) {
		return errors.New("band: band count mismatch")
	}
	if len(s.ChannelsMask) != len(r.state.ChannelsMask) || len(s.ChannelsDefaultMask) != len(r.state.ChannelsDefaultMask) {
		return errors.New("band: channels mask size mismatch")
	}

	r.state = State{
		Channels:            make([]Channel, len(s.Channels)),
		ChannelsMask:        make([]uint16, len(s.ChannelsMask)),
		ChannelsDefaultMask: make([]uint16, len(s.ChannelsDefaultMask)),
		Bands:               make([]Band, len(s.Bands)),
	}
	copy(r.state.Channels, s.Channels)
	copy(r.state.ChannelsMask, s.ChannelsMask)
	copy(r.state.ChannelsDefaultMask, s.ChannelsDefaultMask)
	copy(r.state.Bands, s.Bands)
	return nil
}

func (r *dynamicRegion) DataRate(dr uint8) (loraband.DataRate, error) {
	d, err := r.band.GetDataRate(int(dr))
	if err != nil {
		return d, errors.Wrap(ErrInvalidDatarate, err.Error())
	}
	return d, nil
}

func (r *dynamicRegion) MaxPayloadSize(dr uint8) (int, error) {
	mps, err := r.band.GetMaxPayloadSizeForDataRateIndex("", "", int(dr))
	if err != nil {
		return 0, errors.Wrap(ErrInvalidDatarate, err.Error())
	}
	return mps.N, nil
}

func (r *dynamicRegion) VerifyTxDatarate(dr uint8, uplinkDwellTime bool) bool {
	d := r.params.defaults
	minDR := d.MinTxDatarate
	if uplinkDwellTime && r.params.uplinkDwellMinDR > minDR {
		minDR = r.params.uplinkDwellMinDR
	}
	return dr >= minDR && dr <= d.MaxTxDatarate
}

func (r *dynamicRegion) VerifyRxDatarate(dr uint8) bool {
	d := r.params.defaults
	return dr >= d.MinRxDatarate && dr <= d.MaxRxDatarate
}

func (r *dynamicRegion) VerifyTxPower(p int8) bool {
	return p >= 0 && p <= r.params.defaults.MaxTxPower
}

func (r *dynamicRegion) VerifyFrequency(f uint32) bool {
	return r.bandForFrequency(f) != -1
}

func (r *dynamicRegion) Channel(i int) (Channel, bool) {
	if i < 0 || i >= len(r.state.Channels) || r.state.Channels[i].Frequency == 0 {
		return Channel{}, false
	}
	return r.state.Channels[i], true
}

// ApplyCFList applies a type 0 (frequency list) CFList. A zero frequency
// removes the channel.
func (r *dynamicRegion) ApplyCFList(b []byte) error {
	if !r.params.cfList {
		return errors.Wrap(ErrCFList, "not implemented by region")
	}
	if len(b) != 16 {
		return errors.Wrap(ErrCFList, "invalid size")
	}
	if b[15] != 0 {
		return errors.Wrap(ErrCFList, "unsupported cflist type")
	}

	d := r.params.defaults
	for i := 0; i < 5; i++ {
		chIndex := r.params.defaultChannels + i
		if chIndex >= d.MaxChannels {
			break
		}

		freq := (uint32(b[i*3]) | uint32(b[i*3+1])<<8 | uint32(b[i*3+2])<<16) * 100
		if freq == 0 {
			r.ChannelsRemove(chIndex)
			continue
		}

		if err := r.ChannelAdd(chIndex, Channel{
			Frequency: freq,
			MinDR:     d.MinTxDatarate,
			MaxDR:     5,
		}); err != nil {
			return errors.Wrapf(err, "add channel %d error", chIndex)
		}
	}

	return nil
}

func (r *dynamicRegion) ChanMaskSet(mask []uint16, isDefault bool) bool {
	if len(mask) < len(r.state.ChannelsMask) {
		return false
	}

	if isDefault {
		copy(r.state.ChannelsDefaultMask, mask)
		copy(r.state.ChannelsMask, mask)
	} else {
		copy(r.state.ChannelsMask, mask)
	}
	return true
}

func (r *dynamicRegion) ChannelAdd(i int, c Channel) error {
	d := r.params.defaults

	if i < r.params.defaultChannels || i >= d.MaxChannels {
		return ErrInvalidChannel
	}
	if c.MinDR > c.MaxDR || c.MinDR < d.MinTxDatarate || c.MaxDR > d.MaxTxDatarate {
		return ErrInvalidDatarate
	}

	b := r.bandForFrequency(c.Frequency)
	if b == -1 {
		return ErrInvalidFrequency
	}

	c.Band = b
	r.state.Channels[i] = c
	r.state.ChannelsMask[i/16] |= 1 << uint(i%16)

	return nil
}

func (r *dynamicRegion) ChannelsRemove(i int) bool {
	if i < r.params.defaultChannels || i >= len(r.state.Channels) {
		return false
	}

	r.state.Channels[i] = Channel{}
	r.state.ChannelsMask[i/16] &^= 1 << uint(i%16)
	return true
}

func (r *dynamicRegion) AlternateDr(currentDr uint8, nbTrials uint16) uint8 {
	dr := r.params.alternateDr(currentDr, nbTrials)
	if r.uplinkDwell && dr < r.params.uplinkDwellMinDR {
		dr = r.params.uplinkDwellMinDR
	}
	return dr
}

func (r *dynamicRegion) ApplyDrOffset(dr, offset uint8, downlinkDwellTime bool) uint8 {
	minDR := r.params.defaults.MinRxDatarate
	if downlinkDwellTime && r.params.uplinkDwellMinDR > minDR {
		minDR = r.params.uplinkDwellMinDR
	}

	rx1DR, err := r.band.GetRX1DataRateIndex(int(dr), int(offset))
	if err != nil {
		if offset >= dr {
			return minDR
		}
		rx1DR = int(dr - offset)
	}

	if uint8(rx1DR) < minDR {
		return minDR
	}
	return uint8(rx1DR)
}

func (r *dynamicRegion) BeaconParams() BeaconParams {
	return r.params.beacon
}

func (r *dynamicRegion) PingSlotFrequency(devAddr lorawan.DevAddr, beaconTime time.Duration) uint32 {
	return r.params.pingSlotFrequency
}

func (r *dynamicRegion) bandForFrequency(f uint32) int {
	for i, b := range r.params.bands {
		if f >= b.MinFrequency && f <= b.MaxFrequency {
			return i
		}
	}
	return -1
}

// enabledChannels returns the indices of the defined and enabled channels.
func (r *dynamicRegion) enabledChannels(mask []uint16) []int {
	var out []int
	for i, c := range r.state.Channels {
		if c.Frequency == 0 {
			continue
		}
		if mask[i/16]&(1<<uint(i%16)) == 0 {
			continue
		}
		out = append(out, i)
	}
	return out
}

func maskIsZero(mask []uint16) bool {
	for _, m := range mask {
		if m != 0 {
			return false
		}
	}
	return true
}
