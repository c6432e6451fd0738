package band

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	loraband "github.com/brocaar/lorawan/band"
)

const (
	radioWakeUpTime = time.Millisecond
	txTimeout       = 4 * time.Second

	// frame overhead (MHDR, FHDR without FOpts, FPort and MIC) added to
	// the max. payload size of the RX configuration
	framePayloadOverhead = 13

	fskBitrate      = 50000
	fskFdev         = 25000
	fskBandwidth    = 50000
	fskBandwidthAfc = 83333
)

func symbolDuration(dr loraband.DataRate) time.Duration {
	if dr.Modulation == loraband.FSKModulation {
		if dr.BitRate == 0 {
			return 0
		}
		// 8 bits (one byte) per symbol
		return time.Duration(8*int64(time.Second)) / time.Duration(dr.BitRate)
	}

	if dr.Bandwidth == 0 {
		return 0
	}
	return time.Duration(int64(1)<<uint(dr.SpreadFactor)) * time.Second / time.Duration(dr.Bandwidth*1000)
}

// ComputeRxWindowParameters computes the RX symbol timeout and the window
// offset so that the window covers the preamble given the max. system timing
// error, and at least minRxSymbols symbols.
func (r *dynamicRegion) ComputeRxWindowParameters(dr uint8, minRxSymbols uint8, rxError time.Duration) (RxWindowParams, error) {
	var out RxWindowParams

	if dr > r.params.defaults.MaxRxDatarate {
		dr = r.params.defaults.MaxRxDatarate
	}

	d, err := r.DataRate(dr)
	if err != nil {
		return out, err
	}

	tSym := symbolDuration(d)
	if tSym == 0 {
		return out, errors.Wrap(ErrInvalidDatarate, "zero symbol duration")
	}

	tSymUs := float64(tSym) / float64(time.Microsecond)
	rxErrorUs := float64(rxError) / float64(time.Microsecond)

	timeout := math.Ceil(((2*float64(minRxSymbols)-8)*tSymUs + 2*rxErrorUs) / tSymUs)
	if timeout < float64(minRxSymbols) {
		timeout = float64(minRxSymbols)
	}

	wakeUpUs := float64(radioWakeUpTime) / float64(time.Microsecond)
	offsetMs := math.Ceil((4*tSymUs - (timeout*tSymUs)/2 - wakeUpUs) / 1000)

	out = RxWindowParams{
		Datarate:       dr,
		Bandwidth:      d.Bandwidth,
		SymbolTimeout:  uint16(timeout),
		WindowOffset:   time.Duration(offsetMs) * time.Millisecond,
		SymbolDuration: tSym,
	}

	return out, nil
}

// RxConfig returns the frequency and the radio RX configuration. When
// p.Frequency is 0, the RX1 frequency of the channel is used.
func (r *dynamicRegion) RxConfig(p RxConfigParams) (uint32, radio.RxConfig, error) {
	var conf radio.RxConfig

	freq := p.Frequency
	if freq == 0 {
		c, ok := r.Channel(p.Channel)
		if !ok {
			return 0, conf, ErrInvalidChannel
		}
		freq = c.Frequency
		if c.Rx1Frequency != 0 {
			freq = c.Rx1Frequency
		}
	}

	d, err := r.DataRate(p.Datarate)
	if err != nil {
		return 0, conf, err
	}

	if d.Modulation == loraband.FSKModulation {
		conf = radio.RxConfig{
			Modulation:   radio.ModemFSK,
			Bandwidth:    fskBandwidth / 1000,
			Bitrate:      d.BitRate,
			BandwidthAfc: fskBandwidthAfc,
			PreambleLen:  5,
			SymbTimeout:  p.SymbolTimeout,
			CRCOn:        true,
			RxContinuous: p.RxContinuous,
		}
	} else {
		conf = radio.RxConfig{
			Modulation:   radio.ModemLoRa,
			Bandwidth:    d.Bandwidth,
			SpreadFactor: d.SpreadFactor,
			CodeRate:     1,
			PreambleLen:  8,
			SymbTimeout:  p.SymbolTimeout,
			IQInverted:   true,
			RxContinuous: p.RxContinuous,
		}
	}

	if p.Beacon {
		bp := r.params.beacon
		conf.PreambleLen = bp.Preamble
		conf.FixLen = true
		conf.PayloadLen = uint8(bp.Size)
		conf.IQInverted = false
		conf.RxContinuous = false
		return freq, conf, nil
	}

	size, err := r.MaxPayloadSize(p.Datarate)
	if err != nil {
		return 0, conf, err
	}
	if size+framePayloadOverhead > math.MaxUint8 {
		conf.PayloadLen = math.MaxUint8
	} else {
		conf.PayloadLen = uint8(size + framePayloadOverhead)
	}

	return freq, conf, nil
}

// TxConfig returns the channel frequency, the radio TX configuration and the
// time on air. The radiated power is MaxEIRP - 2*TxPower, minus the antenna
// gain.
func (r *dynamicRegion) TxConfig(p TxConfigParams) (uint32, radio.TxConfig, time.Duration, error) {
	var conf radio.TxConfig

	c, ok := r.Channel(p.Channel)
	if !ok {
		return 0, conf, 0, ErrInvalidChannel
	}

	d, err := r.DataRate(p.Datarate)
	if err != nil {
		return 0, conf, 0, err
	}

	maxEIRP := p.MaxEIRP
	if maxEIRP == 0 {
		maxEIRP = r.params.defaults.MaxEIRP
	}
	txPower := p.TxPower
	if !r.VerifyTxPower(txPower) {
		txPower = r.params.defaults.MaxTxPower
	}
	phyTxPower := int8(math.Floor(float64(maxEIRP - 2*float32(txPower) - p.AntennaGain)))

	if d.Modulation == loraband.FSKModulation {
		conf = radio.TxConfig{
			Modulation:  radio.ModemFSK,
			Power:       phyTxPower,
			Fdev:        fskFdev,
			Bitrate:     d.BitRate,
			PreambleLen: 5,
			CRCOn:       true,
			Timeout:     txTimeout,
		}
	} else {
		conf = radio.TxConfig{
			Modulation:   radio.ModemLoRa,
			Power:        phyTxPower,
			Bandwidth:    d.Bandwidth,
			SpreadFactor: d.SpreadFactor,
			CodeRate:     1,
			PreambleLen:  8,
			CRCOn:        true,
			Timeout:      txTimeout,
		}
	}

	return c.Frequency, conf, radio.TimeOnAir(conf, p.PktLen), nil
}
