package models

import (
	"fmt"
	"time"

	"github.com/brocaar/lorawan"
)

// DeviceClass defines the LoRaWAN device class.
type DeviceClass int

// Device classes.
const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	}
	return fmt.Sprintf("DeviceClass(%d)", int(c))
}

// Activation defines the network activation type.
type Activation int

// Activation types.
const (
	ActivationNone Activation = iota
	ActivationABP
	ActivationOTAA
)

func (a Activation) String() string {
	switch a {
	case ActivationNone:
		return "NONE"
	case ActivationABP:
		return "ABP"
	case ActivationOTAA:
		return "OTAA"
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// RxSlot identifies the receive window.
type RxSlot int

// Receive windows.
const (
	RxSlotWin1 RxSlot = iota
	RxSlotWin2
	RxSlotClassC
	RxSlotClassBPingSlot
	RxSlotClassBMulticastSlot
	RxSlotNone
)

func (s RxSlot) String() string {
	switch s {
	case RxSlotWin1:
		return "RX1"
	case RxSlotWin2:
		return "RX2"
	case RxSlotClassC:
		return "RXC"
	case RxSlotClassBPingSlot:
		return "PING_SLOT"
	case RxSlotClassBMulticastSlot:
		return "MULTICAST_SLOT"
	case RxSlotNone:
		return "NONE"
	}
	return fmt.Sprintf("RxSlot(%d)", int(s))
}

// AddrID identifies an address slot: one of the four multicast channels or
// the unicast device address.
type AddrID int

// Address slots.
const (
	MulticastChannel0 AddrID = iota
	MulticastChannel1
	MulticastChannel2
	MulticastChannel3
	UnicastAddr
)

// MaxMulticastChannels defines the number of multicast slots.
const MaxMulticastChannels = 4

// BeaconInfo holds the content of a received beacon.
type BeaconInfo struct {
	Time       time.Duration // since GPS epoch
	Frequency  uint32
	Datarate   uint8
	RSSI       int16
	SNR        int8
	InfoDesc   uint8
	Info       [6]byte
	ReceivedAt time.Time
}

// MulticastChannelParams holds the parameters of a multicast channel.
type MulticastChannelParams struct {
	IsEnabled   bool
	GroupID     AddrID
	Address     lorawan.DevAddr
	FCountMin   uint32
	FCountMax   uint32
	Class       DeviceClass
	Frequency   uint32
	Datarate    uint8
	Periodicity uint8 // class B only
}
