package mac

import (
	"time"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/classb"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/lorawan"
)

// Context holds the persistable state of the MAC layer. It is gob encoded
// by the storage package, so all fields are exported.
type Context struct {
	DeviceClass models.DeviceClass
	Activation  models.Activation
	NetID       lorawan.NetID
	DevAddr     lorawan.DevAddr

	Params        maccommand.Params
	DefaultParams maccommand.Params

	AdrEnabled      bool
	PublicNetwork   bool
	RepeaterSupport bool
	DutyCycleOn     bool

	Region            band.State
	AggregatedTimeOff time.Duration
	LastAggrTx        time.Time
	AdrAckCounter     uint32

	// SrvAckRequested is set when the last downlink was confirmed.
	SrvAckRequested bool

	MulticastChannels [models.MaxMulticastChannels]models.MulticastChannelParams
	MacCommands       []maccommand.Command
	Security          security.Context
	ClassB            classb.Context

	// LoRaWAN 1.1 ResetInd / RekeyInd handling.
	ResetIndPending bool
	RekeyIndPending bool
	RekeyIndUplinks uint16

	// periodic rejoin-request type 0, set by RejoinParamSetupReq
	RejoinType0Enabled bool
	RejoinMaxTimeN     uint8
	RejoinMaxCountN    uint8
	RejoinUplinks      uint32

	JoinRequestTrials  uint16
	InitializationTime time.Time
}

// RejoinParams holds the type 0 rejoin-request periodicity set by the
// RejoinParamSetupReq. The rejoin-request is sent every 2^(MaxCountN+4)
// uplinks or every 2^(MaxTimeN+10) seconds.
type RejoinParams struct {
	MaxTimeN  uint8
	MaxCountN uint8
}

func defaultParams(r band.Region) maccommand.Params {
	d := r.Defaults()

	return maccommand.Params{
		ChannelsTxPower:  d.TxPower,
		ChannelsDatarate: d.Datarate,
		ChannelsNbTrans:  1,
		AggregatedDCycle: 1,
		Rx2Channel:       d.Rx2Channel,
		RxCChannel:       d.Rx2Channel,
		ReceiveDelay1:    d.ReceiveDelay1,
		ReceiveDelay2:    d.ReceiveDelay2,
		JoinAcceptDelay1: d.JoinAcceptDelay1,
		JoinAcceptDelay2: d.JoinAcceptDelay2,
		MaxRxWindow:      d.MaxRxWindow,
		SystemMaxRxError: 10 * time.Millisecond,
		MinRxSymbols:     6,
		MaxEIRP:          d.MaxEIRP,
		AntennaGain:      d.AntennaGain,
		AdrAckLimit:      d.AdrAckLimit,
		AdrAckDelay:      d.AdrAckDelay,
	}
}

// NewContext returns the initial context for the given region.
func NewContext(r band.Region, now time.Time) Context {
	p := defaultParams(r)

	return Context{
		Params:             p,
		DefaultParams:      p,
		AdrEnabled:         true,
		PublicNetwork:      true,
		DutyCycleOn:        r.Defaults().DutyCycleEnabled,
		Region:             r.State(),
		Security:           security.NewContext(),
		InitializationTime: now,
	}
}
