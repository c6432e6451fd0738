// Package classb implements the class B beacon tracking and the ping-slot
// and multicast-slot scheduling of the end-device.
package classb

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/lorawan"
)

const (
	pingPeriodBase  = 1 << 12
	slotLen         = 30 * time.Millisecond
	radioWakeUpTime = time.Millisecond
)

// Params holds the class B timing parameters.
type Params struct {
	BeaconInterval                  time.Duration
	BeaconReserved                  time.Duration
	BeaconGuard                     time.Duration
	BeaconWindow                    time.Duration
	BeaconWindowSlots               uint16
	PingSlotWindow                  time.Duration
	BeaconSymbolToDefault           uint16
	BeaconSymbolToExpansionMax      uint16
	PingSlotSymbolToExpansionMax    uint16
	BeaconSymbolToExpansionFactor   uint16
	PingSlotSymbolToExpansionFactor uint16
	MaxBeaconLessPeriod             time.Duration
}

// DefaultParams returns the default class B parameters.
func DefaultParams() Params {
	return Params{
		BeaconInterval:                  128 * time.Second,
		BeaconReserved:                  2120 * time.Millisecond,
		BeaconGuard:                     3 * time.Second,
		BeaconWindow:                    122880 * time.Millisecond,
		BeaconWindowSlots:               4096,
		PingSlotWindow:                  slotLen,
		BeaconSymbolToDefault:           8,
		BeaconSymbolToExpansionMax:      255,
		PingSlotSymbolToExpansionMax:    30,
		BeaconSymbolToExpansionFactor:   2,
		PingSlotSymbolToExpansionFactor: 2,
		MaxBeaconLessPeriod:             2 * time.Hour,
	}
}

// Encrypter defines the AES encryption used for the slot randomization.
type Encrypter interface {
	AesEncrypt(buffer []byte, id se.KeyID) ([]byte, error)
}

// BeaconStart returns the start of the beacon period containing the given
// time since GPS epoch.
func BeaconStart(gpsTime, interval time.Duration) time.Duration {
	return gpsTime - (gpsTime % interval)
}

// PingPeriod returns the ping period in slots for the given periodicity
// (ping every 2^periodicity seconds).
func PingPeriod(periodicity uint8) int {
	return pingPeriodBase / PingNb(periodicity)
}

// PingNb returns the number of ping-slots per beacon period.
func PingNb(periodicity uint8) int {
	return 1 << (7 - (periodicity & 0x07))
}

// PingOffset returns the ping offset (in slots) for the given beacon time and
// address.
func PingOffset(enc Encrypter, beacon time.Duration, devAddr lorawan.DevAddr, pingPeriod int) (int, error) {
	if pingPeriod == 0 {
		return 0, errors.New("ping period must be > 0")
	}

	devAddrBytes, err := devAddr.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(err, "marshal devaddr error")
	}

	beaconTime := uint32(int64(beacon/time.Second) % (1 << 32))

	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], beaconTime)
	copy(b[4:8], devAddrBytes)

	rand, err := enc.AesEncrypt(b, se.SlotRandZeroKey)
	if err != nil {
		return 0, errors.Wrap(err, "encrypt error")
	}

	return (int(rand[0]) + int(rand[1])*256) % pingPeriod, nil
}

// SlotTime returns the time until the next slot with the given offset,
// relative to the beacon period of the last received beacon (which might
// have been missed). False is returned when no slot is left before the
// guard time of the next beacon.
func SlotTime(now, lastBeaconRx, nextBeaconRx time.Time, p Params, pingOffset, pingPeriod, pingNb int) (time.Duration, bool) {
	periodStart := now.Add(-(now.Sub(lastBeaconRx) % p.BeaconInterval))

	slot := periodStart.Add(p.BeaconReserved + time.Duration(pingOffset)*p.PingSlotWindow)

	var current int
	if slot.Before(now) {
		spacing := time.Duration(pingPeriod) * p.PingSlotWindow
		current = int(now.Sub(slot)/spacing) + 1
		slot = slot.Add(time.Duration(current) * spacing)
	}

	if current >= pingNb {
		return 0, false
	}
	if slot.After(nextBeaconRx.Add(-p.BeaconGuard - p.PingSlotWindow)) {
		return 0, false
	}

	d := slot.Sub(now) - radioWakeUpTime
	if d < 0 {
		d = 0
	}
	return d, true
}

// UplinkCollision returns the time the uplink must be delayed when the next
// beacon falls within the uplink and its receive windows.
func UplinkCollision(now, nextBeaconRx time.Time, p Params, rxDelays, toa time.Duration) time.Duration {
	if nextBeaconRx.IsZero() {
		return 0
	}

	reservedStart := nextBeaconRx.Add(-p.BeaconGuard - rxDelays - toa)
	reservedEnd := nextBeaconRx.Add(p.BeaconReserved)

	if !now.Before(reservedStart) && now.Before(reservedEnd) {
		return p.BeaconReserved
	}
	return 0
}
