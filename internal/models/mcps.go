package models

import (
	"time"

	"github.com/brocaar/lorawan"
)

// McpsType defines the data service type.
type McpsType int

// Data service types.
const (
	McpsUnconfirmed McpsType = iota
	McpsConfirmed
	McpsMulticast
	McpsProprietary
)

func (t McpsType) String() string {
	switch t {
	case McpsUnconfirmed:
		return "UNCONFIRMED"
	case McpsConfirmed:
		return "CONFIRMED"
	case McpsMulticast:
		return "MULTICAST"
	case McpsProprietary:
		return "PROPRIETARY"
	}
	return "UNKNOWN"
}

// McpsReq defines a data request.
type McpsReq struct {
	Type    McpsType
	FPort   uint8
	Payload []byte

	// Datarate is used when ADR is disabled.
	Datarate uint8

	// NbTrials is the max. number of transmissions of a confirmed uplink
	// (capped at 8). Zero means the ChannelsNbTrans value.
	NbTrials uint8

	// AllowDelayedTx delays the uplink until the duty-cycle (or the class B
	// beacon guard) permits it, instead of rejecting the request.
	AllowDelayedTx bool
}

// McpsConfirm holds the outcome of a data request.
type McpsConfirm struct {
	Type          McpsType
	Status        EventInfoStatus
	Datarate      uint8
	TxPower       int8
	AckReceived   bool
	NbTrans       uint8
	TxTimeOnAir   time.Duration
	UpLinkCounter uint32
	Channel       int
}

// McpsIndication holds an inbound frame.
type McpsIndication struct {
	Type            McpsType
	Status          EventInfoStatus
	Multicast       bool
	FPort           uint8
	RxDatarate      uint8
	FramePending    bool
	Buffer          []byte
	RxData          bool
	RSSI            int16
	SNR             int8
	RxSlot          RxSlot
	AckReceived     bool
	DownLinkCounter uint32
	DevAddress      lorawan.DevAddr

	// DeviceTimeAnsReceived is set when the frame carried a DeviceTimeAns.
	DeviceTimeAnsReceived bool
}
