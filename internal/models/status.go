// Package models contains the request, confirm and indication types exchanged
// between the MAC layer and the upper layer.
package models

import "fmt"

// Status defines the synchronous status of a MAC request. Every value except
// StatusOK implements the error interface, so a request returns a Status as
// error.
type Status int

// Request statuses.
const (
	StatusOK Status = iota
	StatusBusy
	StatusServiceUnknown
	StatusParameterInvalid
	StatusFrequencyInvalid
	StatusDatarateInvalid
	StatusFreqAndDrInvalid
	StatusNoNetworkJoined
	StatusLengthError
	StatusRegionNotSupported
	StatusSkippedAppData
	StatusDutyCycleRestricted
	StatusNoChannelFound
	StatusNoFreeChannelFound
	StatusBusyBeaconReservedTime
	StatusBusyPingSlotWindowTime
	StatusBusyUplinkCollision
	StatusCryptoError
	StatusFCntHandlerError
	StatusMacCommandError
	StatusClassBError
	StatusConfirmQueueError
	StatusMcGroupUndefined
	StatusError
)

var statusNames = map[Status]string{
	StatusOK:                     "OK",
	StatusBusy:                   "BUSY",
	StatusServiceUnknown:         "SERVICE_UNKNOWN",
	StatusParameterInvalid:       "PARAMETER_INVALID",
	StatusFrequencyInvalid:       "FREQUENCY_INVALID",
	StatusDatarateInvalid:        "DATARATE_INVALID",
	StatusFreqAndDrInvalid:       "FREQ_AND_DR_INVALID",
	StatusNoNetworkJoined:        "NO_NETWORK_JOINED",
	StatusLengthError:            "LENGTH_ERROR",
	StatusRegionNotSupported:     "REGION_NOT_SUPPORTED",
	StatusSkippedAppData:         "SKIPPED_APP_DATA",
	StatusDutyCycleRestricted:    "DUTYCYCLE_RESTRICTED",
	StatusNoChannelFound:         "NO_CHANNEL_FOUND",
	StatusNoFreeChannelFound:     "NO_FREE_CHANNEL_FOUND",
	StatusBusyBeaconReservedTime: "BUSY_BEACON_RESERVED_TIME",
	StatusBusyPingSlotWindowTime: "BUSY_PING_SLOT_WINDOW_TIME",
	StatusBusyUplinkCollision:    "BUSY_UPLINK_COLLISION",
	StatusCryptoError:            "CRYPTO_ERROR",
	StatusFCntHandlerError:       "FCNT_HANDLER_ERROR",
	StatusMacCommandError:        "MAC_COMMAND_ERROR",
	StatusClassBError:            "CLASS_B_ERROR",
	StatusConfirmQueueError:      "CONFIRM_QUEUE_ERROR",
	StatusMcGroupUndefined:       "MC_GROUP_UNDEFINED",
	StatusError:                  "ERROR",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Error implements the error interface.
func (s Status) Error() string {
	return "mac: " + s.String()
}

// EventInfoStatus defines the status of an asynchronous confirm or
// indication.
type EventInfoStatus int

// Event statuses.
const (
	EventInfoStatusOK EventInfoStatus = iota
	EventInfoStatusError
	EventInfoStatusTxTimeout
	EventInfoStatusRx1Timeout
	EventInfoStatusRx2Timeout
	EventInfoStatusRx1Error
	EventInfoStatusRx2Error
	EventInfoStatusJoinFail
	EventInfoStatusDownlinkRepeated
	EventInfoStatusTxDrPayloadSizeError
	EventInfoStatusDownlinkTooManyFramesLoss
	EventInfoStatusAddressFail
	EventInfoStatusMICFail
	EventInfoStatusMulticastFail
	EventInfoStatusBeaconLocked
	EventInfoStatusBeaconLost
	EventInfoStatusBeaconNotFound
)

var eventInfoStatusNames = map[EventInfoStatus]string{
	EventInfoStatusOK:                        "OK",
	EventInfoStatusError:                     "ERROR",
	EventInfoStatusTxTimeout:                 "TX_TIMEOUT",
	EventInfoStatusRx1Timeout:                "RX1_TIMEOUT",
	EventInfoStatusRx2Timeout:                "RX2_TIMEOUT",
	EventInfoStatusRx1Error:                  "RX1_ERROR",
	EventInfoStatusRx2Error:                  "RX2_ERROR",
	EventInfoStatusJoinFail:                  "JOIN_FAIL",
	EventInfoStatusDownlinkRepeated:          "DOWNLINK_REPEATED",
	EventInfoStatusTxDrPayloadSizeError:      "TX_DR_PAYLOAD_SIZE_ERROR",
	EventInfoStatusDownlinkTooManyFramesLoss: "DOWNLINK_TOO_MANY_FRAMES_LOSS",
	EventInfoStatusAddressFail:               "ADDRESS_FAIL",
	EventInfoStatusMICFail:                   "MIC_FAIL",
	EventInfoStatusMulticastFail:             "MULTICAST_FAIL",
	EventInfoStatusBeaconLocked:              "BEACON_LOCKED",
	EventInfoStatusBeaconLost:                "BEACON_LOST",
	EventInfoStatusBeaconNotFound:            "BEACON_NOT_FOUND",
}

func (s EventInfoStatus) String() string {
	if n, ok := eventInfoStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("EventInfoStatus(%d)", int(s))
}
