package maccommand

import (
	"context"
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/logging"
	"github.com/brocaar/lorawan"
)

// beaconTimingStep defines the unit of the BeaconTimingAns delay.
const beaconTimingStep = 30 * time.Millisecond

// RequestBeaconTiming adds a BeaconTimingReq to the buffer.
func RequestBeaconTiming(b *Buffer) error {
	return b.Add(BeaconTimingReq, nil)
}

func handleBeaconTimingAns(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	b, err := rawPayload(cmd, 3)
	if err != nil {
		return err
	}

	delay := time.Duration(binary.LittleEndian.Uint16(b[0:2])) * beaconTimingStep
	channel := b[2]

	dev.BeaconTimingAns(delay, channel)

	log.WithFields(log.Fields{
		"delay":   delay,
		"channel": channel,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("beacon_timing_ans received")

	return nil
}

// handleBeaconFreqReq sets the beacon frequency. A frequency of 0 restores
// the default frequency.
func handleBeaconFreqReq(ctx context.Context, dev Device, cmd lorawan.MACCommand) error {
	b, err := rawPayload(cmd, 3)
	if err != nil {
		return err
	}

	freq := (uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16) * 100
	freqOK := freq == 0 || dev.Region().VerifyFrequency(freq)
	if freqOK {
		dev.BeaconFrequency(freq)
	}

	log.WithFields(log.Fields{
		"frequency":            freq,
		"beacon_frequency_ok": freqOK,
		"ctx_id":               ctx.Value(logging.ContextIDKey),
	}).Info("beacon_freq_req received")

	var status byte
	if freqOK {
		status = 0x01
	}
	return dev.Buffer().Add(BeaconFreqAns, []byte{status})
}
