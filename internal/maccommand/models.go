package maccommand

import (
	"time"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/lorawan"
)

// CIDs which are not defined by the lorawan package.
const (
	DLChannelReq     lorawan.CID = 0x0a
	DLChannelAns     lorawan.CID = 0x0a
	ADRParamSetupReq lorawan.CID = 0x0c
	ADRParamSetupAns lorawan.CID = 0x0c
	ForceRejoinReq   lorawan.CID = 0x0e
	BeaconTimingReq  lorawan.CID = 0x12
	BeaconTimingAns  lorawan.CID = 0x12
	BeaconFreqReq    lorawan.CID = 0x13
	BeaconFreqAns    lorawan.CID = 0x13

	// device side names of the CIDs shared with the request
	DutyCycleAns    = lorawan.DutyCycleReq
	TXParamSetupAns = lorawan.TXParamSetupReq
)

// Block defines a block of mac-commands sharing the same CID.
type Block struct {
	CID         lorawan.CID
	MACCommands []lorawan.MACCommand
}

// Params holds the mac parameters which can be changed by the network.
type Params struct {
	ChannelsTxPower   int8
	ChannelsDatarate  uint8
	ChannelsNbTrans   uint8
	MaxDCycle         uint8
	AggregatedDCycle  uint16
	Rx1DrOffset       uint8
	Rx2Channel        band.RxChannelParams
	RxCChannel        band.RxChannelParams
	ReceiveDelay1     time.Duration
	ReceiveDelay2     time.Duration
	JoinAcceptDelay1  time.Duration
	JoinAcceptDelay2  time.Duration
	MaxRxWindow       time.Duration
	SystemMaxRxError  time.Duration
	MinRxSymbols      uint8
	UplinkDwellTime   bool
	DownlinkDwellTime bool
	MaxEIRP           float32
	AntennaGain       float32
	AdrAckLimit       uint16
	AdrAckDelay       uint16
}

// ForceRejoinParams holds the content of a ForceRejoinReq.
type ForceRejoinParams struct {
	Period     uint8
	MaxRetries uint8
	RejoinType uint8
	Datarate   uint8
}

// Device defines the end-device state accessed by the mac-command handlers.
type Device interface {
	// Region returns the regional parameters.
	Region() band.Region

	// Params returns the mutable mac parameters.
	Params() *Params

	// Buffer returns the uplink mac-command buffer.
	Buffer() *Buffer

	// AdrEnabled returns true when ADR is enabled.
	AdrEnabled() bool

	// Battery returns the battery level as defined by DevStatusAns.
	Battery() uint8

	// SNR returns the SNR of the downlink being processed.
	SNR() int8

	LinkCheckAns(margin, gwCnt uint8)
	DeviceTimeAns(timeSinceGPSEpoch time.Duration)
	ForceRejoin(p ForceRejoinParams)
	RejoinParamSetup(maxTimeN, maxCountN uint8) bool
	ResetConf(servMinor uint8)
	RekeyConf(servMinor uint8)
	DeviceModeConf(class lorawan.DeviceModeClass)
	PingSlotInfoAns()
	PingSlotChannel(freq uint32, dr uint8)
	BeaconTimingAns(delay time.Duration, channel uint8)
	BeaconFrequency(freq uint32)
}

// command payload sizes, by direction
var (
	uplinkSizes = map[lorawan.CID]int{
		lorawan.ResetInd:            1,
		lorawan.LinkCheckReq:        0,
		lorawan.LinkADRAns:          1,
		DutyCycleAns:                0,
		lorawan.RXParamSetupAns:     1,
		lorawan.DevStatusAns:        2,
		lorawan.NewChannelAns:       1,
		lorawan.RXTimingSetupAns:    0,
		TXParamSetupAns:             0,
		DLChannelAns:                1,
		lorawan.RekeyInd:            1,
		ADRParamSetupAns:            0,
		lorawan.DeviceTimeReq:       0,
		lorawan.RejoinParamSetupAns: 1,
		lorawan.PingSlotInfoReq:     1,
		lorawan.PingSlotChannelAns:  1,
		BeaconTimingReq:             0,
		BeaconFreqAns:               1,
		lorawan.DeviceModeInd:       1,
	}

	downlinkSizes = map[lorawan.CID]int{
		lorawan.ResetConf:           1,
		lorawan.LinkCheckAns:        2,
		lorawan.LinkADRReq:          4,
		lorawan.DutyCycleReq:        1,
		lorawan.RXParamSetupReq:     4,
		lorawan.DevStatusReq:        0,
		lorawan.NewChannelReq:       5,
		lorawan.RXTimingSetupReq:    1,
		lorawan.TXParamSetupReq:     1,
		DLChannelReq:                4,
		lorawan.RekeyConf:           1,
		ADRParamSetupReq:            1,
		lorawan.DeviceTimeAns:       5,
		ForceRejoinReq:              2,
		lorawan.RejoinParamSetupReq: 1,
		lorawan.PingSlotInfoAns:     0,
		lorawan.PingSlotChannelReq:  4,
		BeaconTimingAns:             3,
		BeaconFreqReq:               3,
		lorawan.DeviceModeConf:      1,
	}

	// downlink commands decoded as raw bytes
	rawDownlink = map[lorawan.CID]struct{}{
		DLChannelReq:     {},
		ADRParamSetupReq: {},
		ForceRejoinReq:   {},
		BeaconTimingAns:  {},
		BeaconFreqReq:    {},
	}

	stickyAnswers = map[lorawan.CID]struct{}{
		DLChannelAns:               {},
		lorawan.RXParamSetupAns:    {},
		lorawan.RXTimingSetupAns:   {},
		TXParamSetupAns:            {},
		lorawan.PingSlotChannelAns: {},
	}
)

// CommandSize returns the payload size of the given uplink mac-command.
func CommandSize(cid lorawan.CID) (int, bool) {
	s, ok := uplinkSizes[cid]
	return s, ok
}

// IsStickyAnswer returns true when the given uplink mac-command must be
// repeated until a downlink is received.
func IsStickyAnswer(cid lorawan.CID) bool {
	_, ok := stickyAnswers[cid]
	return ok
}
