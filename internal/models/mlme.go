package models

import "time"

// MlmeType defines the management service type.
type MlmeType int

// Management service types.
const (
	MlmeJoin MlmeType = iota
	MlmeRejoin0
	MlmeRejoin1
	MlmeRejoin2
	MlmeLinkCheck
	MlmeDeviceTime
	MlmeTxCw
	MlmePingSlotInfo
	MlmeBeaconTiming
	MlmeBeaconAcquisition
	MlmeDeriveMcKEKey
	MlmeDeriveMcSessionKeyPair
	MlmeScheduleUplink
	MlmeBeacon
	MlmeBeaconLost
	MlmeRevertJoin
)

var mlmeNames = map[MlmeType]string{
	MlmeJoin:                   "JOIN",
	MlmeRejoin0:                "REJOIN_0",
	MlmeRejoin1:                "REJOIN_1",
	MlmeRejoin2:                "REJOIN_2",
	MlmeLinkCheck:              "LINK_CHECK",
	MlmeDeviceTime:             "DEVICE_TIME",
	MlmeTxCw:                   "TXCW",
	MlmePingSlotInfo:           "PING_SLOT_INFO",
	MlmeBeaconTiming:           "BEACON_TIMING",
	MlmeBeaconAcquisition:      "BEACON_ACQUISITION",
	MlmeDeriveMcKEKey:          "DERIVE_MC_KE_KEY",
	MlmeDeriveMcSessionKeyPair: "DERIVE_MC_SESSION_KEY_PAIR",
	MlmeScheduleUplink:         "SCHEDULE_UPLINK",
	MlmeBeacon:                 "BEACON",
	MlmeBeaconLost:             "BEACON_LOST",
	MlmeRevertJoin:             "REVERT_JOIN",
}

func (t MlmeType) String() string {
	if n, ok := mlmeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// MlmeReq defines a management request. Only the fields of the given type
// are used.
type MlmeReq struct {
	Type MlmeType

	// AllowDelayedTx delays a join or rejoin-request that is restricted by
	// the duty-cycle instead of rejecting it.
	AllowDelayedTx bool

	// Join
	JoinDatarate uint8

	// TxCw
	TxCwTimeout   time.Duration
	TxCwFrequency uint32
	TxCwPower     int8

	// PingSlotInfo
	PingSlotPeriodicity uint8

	// DeriveMcSessionKeyPair
	GroupID AddrID
}

// MlmeConfirm holds the outcome of a management request.
type MlmeConfirm struct {
	Type        MlmeType
	Status      EventInfoStatus
	TxTimeOnAir time.Duration
	NbRetries   uint8

	// LinkCheck
	DemodMargin uint8
	NbGateways  uint8

	// BeaconTiming
	BeaconTimingDelay   time.Duration
	BeaconTimingChannel uint8
}

// MlmeIndication holds an asynchronous management notice.
type MlmeIndication struct {
	Type       MlmeType
	Status     EventInfoStatus
	BeaconInfo BeaconInfo
}
