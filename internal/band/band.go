// Package band implements the regional parameters used by the end-device:
// the channel plan, the data-rate and TX power tables, the duty-cycle bands
// and the validation of the channel related mac-commands. The data-rate and
// default tables come from github.com/brocaar/lorawan/band.
package band

import (
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// Region errors.
var (
	ErrNoChannelFound      = errors.New("band: no enabled channel found")
	ErrDutyCycleRestricted = errors.New("band: duty-cycle restricted")
	ErrInvalidChannel      = errors.New("band: invalid channel")
	ErrInvalidFrequency    = errors.New("band: invalid frequency")
	ErrInvalidDatarate     = errors.New("band: invalid data-rate")
	ErrCFList              = errors.New("band: invalid cflist")
	ErrNotSupported        = errors.New("band: region not supported")
)

// Channel defines an uplink channel.
type Channel struct {
	Frequency    uint32
	Rx1Frequency uint32 // 0 means same as the uplink frequency
	MinDR        uint8
	MaxDR        uint8
	Band         int
}

// RxChannelParams defines the RX2 / RXC channel.
type RxChannelParams struct {
	Frequency uint32
	Datarate  uint8
}

// Band defines a duty-cycle band and its time-credit accounting.
type Band struct {
	MinFrequency uint32
	MaxFrequency uint32
	DCycle       uint16

	TimeCredits             time.Duration
	MaxTimeCredits          time.Duration
	LastBandUpdateTime      time.Time
	LastMaxCreditAssignTime time.Time
	ReadyForTransmission    bool
}

// State holds the persistable region state.
type State struct {
	Channels            []Channel
	ChannelsMask        []uint16
	ChannelsDefaultMask []uint16
	Bands               []Band
}

// Defaults holds the default mac parameters of a region.
type Defaults struct {
	ReceiveDelay1    time.Duration
	ReceiveDelay2    time.Duration
	JoinAcceptDelay1 time.Duration
	JoinAcceptDelay2 time.Duration
	MaxRxWindow      time.Duration
	MaxFCntGap       uint32
	AckTimeout       time.Duration
	AckTimeoutRnd    time.Duration
	AdrAckLimit      uint16
	AdrAckDelay      uint16
	Rx2Channel       RxChannelParams
	TxPower          int8
	MaxTxPower       int8 // highest valid TX power index (lowest power)
	Datarate         uint8
	MinTxDatarate    uint8
	MaxTxDatarate    uint8
	MinRxDatarate    uint8
	MaxRxDatarate    uint8
	MaxRx1DROffset   uint8
	MaxEIRP          float32
	AntennaGain      float32
	DutyCycleEnabled bool
	MaxChannels      int
	PingSlotDatarate uint8
}

// BeaconParams holds the class B beacon parameters.
type BeaconParams struct {
	Frequency       uint32
	Datarate        uint8
	Size            int // total beacon size
	RFU1Size        int
	RFU2Size        int
	Preamble        uint16
	SymbolToDefault uint16
}

// NextChannelParams holds the input of the channel selection.
type NextChannelParams struct {
	Now                 time.Time
	AggrTimeOff         time.Duration
	LastAggrTx          time.Time
	Datarate            uint8
	Joined              bool
	DutyCycleEnabled    bool
	ElapsedSinceStartup time.Duration
	TimeOnAir           time.Duration
	LastTxIsJoinRequest bool

	// Intn returns a random number in [0, n).
	Intn func(n int) int
}

// RxWindowParams holds the RX window timing for a given data-rate.
type RxWindowParams struct {
	Datarate       uint8
	Bandwidth      int
	SymbolTimeout  uint16 // in symbols
	WindowOffset   time.Duration
	SymbolDuration time.Duration
}

// RxConfigParams holds the input of the RX configuration.
type RxConfigParams struct {
	Channel       int
	Frequency     uint32
	Datarate      uint8
	SymbolTimeout uint16
	RxContinuous  bool
	Beacon        bool
}

// TxConfigParams holds the input of the TX configuration.
type TxConfigParams struct {
	Channel     int
	Datarate    uint8
	TxPower     int8
	MaxEIRP     float32
	AntennaGain float32
	PktLen      int
}

// LinkAdrReqParams holds a LinkADRReq block.
type LinkAdrReqParams struct {
	Requests        []lorawan.LinkADRReqPayload
	AdrEnabled      bool
	CurrentDatarate uint8
	CurrentTxPower  int8
	CurrentNbTrans  uint8
	UplinkDwellTime bool
}

// LinkAdrReqResult holds the outcome of a LinkADRReq block.
type LinkAdrReqResult struct {
	ChannelMaskACK bool
	DataRateACK    bool
	PowerACK       bool
	Datarate       uint8
	TxPower        int8
	NbTrans        uint8
	ChannelsMask   []uint16
}

// OK returns true when all the bits are acknowledged.
func (r LinkAdrReqResult) OK() bool {
	return r.ChannelMaskACK && r.DataRateACK && r.PowerACK
}

// Region defines the regional parameter provider.
type Region interface {
	// Name returns the region name.
	Name() string

	// Defaults returns the default mac parameters.
	Defaults() Defaults

	// InitDefaults resets the channels, masks and bands to their defaults.
	InitDefaults()

	// State returns a copy of the persistable state.
	State() State

	// SetState restores the persistable state.
	SetState(s State) error

	// DataRate returns the data-rate definition.
	DataRate(dr uint8) (loraband.DataRate, error)

	// MaxPayloadSize returns the maximum MACPayload size (N) for the given
	// data-rate.
	MaxPayloadSize(dr uint8) (int, error)

	// VerifyTxDatarate returns true for a valid uplink data-rate.
	VerifyTxDatarate(dr uint8, uplinkDwellTime bool) bool

	// VerifyRxDatarate returns true for a valid downlink data-rate.
	VerifyRxDatarate(dr uint8) bool

	// VerifyTxPower returns true for a valid TX power index.
	VerifyTxPower(p int8) bool

	// VerifyFrequency returns true for a frequency within the band.
	VerifyFrequency(f uint32) bool

	// Channel returns the channel with the given index.
	Channel(i int) (Channel, bool)

	// ApplyCFList applies the join-accept CFList.
	ApplyCFList(b []byte) error

	// ChanMaskSet sets the channels mask or the default channels mask.
	ChanMaskSet(mask []uint16, isDefault bool) bool

	// SetBandTxDone updates the band time-credits after a transmission.
	SetBandTxDone(ch int, joined bool, toa time.Duration, dutyCycleEnabled bool, elapsedSinceStartup time.Duration, now time.Time)

	// UpdateTimeCredits updates the time credits of all bands. It returns
	// the time to wait until a band allows a transmission of the given time
	// on air.
	UpdateTimeCredits(joined, dutyCycleEnabled bool, elapsedSinceStartup, toa time.Duration, now time.Time) time.Duration

	// NextChannel selects the next uplink channel. ErrDutyCycleRestricted is
	// returned together with the time the device must wait.
	NextChannel(p NextChannelParams) (int, time.Duration, error)

	// ComputeRxWindowParameters computes the RX symbol timeout and window
	// offset for the given data-rate.
	ComputeRxWindowParameters(dr uint8, minRxSymbols uint8, rxError time.Duration) (RxWindowParams, error)

	// RxConfig returns the radio RX configuration.
	RxConfig(p RxConfigParams) (uint32, radio.RxConfig, error)

	// TxConfig returns the channel frequency, the radio TX configuration
	// and the time on air.
	TxConfig(p TxConfigParams) (uint32, radio.TxConfig, time.Duration, error)

	// AlternateDr returns the data-rate for the given join trial.
	AlternateDr(currentDr uint8, nbTrials uint16) uint8

	// LinkAdrReq validates a LinkADRReq block.
	LinkAdrReq(p LinkAdrReqParams) LinkAdrReqResult

	// RxParamSetupReq validates a RXParamSetupReq.
	RxParamSetupReq(pl lorawan.RXParamSetupReqPayload) lorawan.RXParamSetupAnsPayload

	// NewChannelReq validates and applies a NewChannelReq.
	NewChannelReq(pl lorawan.NewChannelReqPayload) lorawan.NewChannelAnsPayload

	// TxParamSetupReq returns true when the region implements TXParamSetupReq.
	TxParamSetupReq(pl lorawan.TXParamSetupReqPayload) bool

	// DlChannelReq validates and applies a DlChannelReq. It returns the
	// ChannelFrequencyOK and UplinkFrequencyExists bits.
	DlChannelReq(chIndex uint8, freq uint32) (bool, bool)

	// ChannelAdd adds a channel at the given index.
	ChannelAdd(i int, c Channel) error

	// ChannelsRemove removes the channel with the given index.
	ChannelsRemove(i int) bool

	// ApplyDrOffset returns the RX1 data-rate.
	ApplyDrOffset(dr, offset uint8, downlinkDwellTime bool) uint8

	// BeaconParams returns the class B beacon parameters.
	BeaconParams() BeaconParams

	// PingSlotFrequency returns the default ping-slot frequency.
	PingSlotFrequency(devAddr lorawan.DevAddr, beaconTime time.Duration) uint32
}

// New returns the Region for the given name.
func New(name string, repeaterCompatible, dwellTime400ms bool) (Region, error) {
	dwellTime := lorawan.DwellTimeNoLimit
	if dwellTime400ms {
		dwellTime = lorawan.DwellTime400ms
	}

	p, ok := regions[name]
	if !ok {
		return nil, errors.Wrap(ErrNotSupported, name)
	}

	b, err := loraband.GetConfig(loraband.Name(name), repeaterCompatible, dwellTime)
	if err != nil {
		return nil, errors.Wrap(err, "get band config error")
	}

	r := &dynamicRegion{
		params:      p,
		band:        b,
		uplinkDwell: dwellTime400ms,
	}
	r.InitDefaults()

	return r, nil
}
