package band

import (
	"time"

	loraband "github.com/brocaar/lorawan/band"
)

// regionParams holds the parameters not covered by the lorawan/band tables.
type regionParams struct {
	name              string
	bandName          loraband.Name
	defaultChannels   int
	defaults          Defaults
	bands             []Band
	cfList            bool
	txParamSetup      bool
	beacon            BeaconParams
	pingSlotFrequency uint32

	// uplinkDwellMinDR is the lowest uplink data-rate when the uplink
	// dwell-time limit is active.
	uplinkDwellMinDR uint8

	alternateDr func(currentDr uint8, nbTrials uint16) uint8
}

var regions = map[string]regionParams{
	"EU868": {
		name:            "EU868",
		bandName:        loraband.EU_863_870,
		defaultChannels: 3,
		cfList:          true,
		defaults: Defaults{
			MaxRxWindow:      3 * time.Second,
			AckTimeout:       2 * time.Second,
			AckTimeoutRnd:    time.Second,
			AdrAckLimit:      64,
			AdrAckDelay:      32,
			TxPower:          0,
			MaxTxPower:       7,
			Datarate:         0,
			MinTxDatarate:    0,
			MaxTxDatarate:    7,
			MinRxDatarate:    0,
			MaxRxDatarate:    7,
			MaxRx1DROffset:   5,
			MaxEIRP:          16,
			AntennaGain:      2.15,
			DutyCycleEnabled: true,
			MaxChannels:      16,
			PingSlotDatarate: 3,
		},
		bands: []Band{
			{MinFrequency: 868000000, MaxFrequency: 868600000, DCycle: 100},
			{MinFrequency: 868700000, MaxFrequency: 869200000, DCycle: 1000},
			{MinFrequency: 869400000, MaxFrequency: 869650000, DCycle: 10},
			{MinFrequency: 869700000, MaxFrequency: 870000000, DCycle: 100},
			{MinFrequency: 863000000, MaxFrequency: 865000000, DCycle: 1000},
			{MinFrequency: 865000000, MaxFrequency: 868000000, DCycle: 100},
		},
		beacon: BeaconParams{
			Frequency:       869525000,
			Datarate:        3,
			Size:            17,
			RFU1Size:        2,
			RFU2Size:        0,
			Preamble:        10,
			SymbolToDefault: 8,
		},
		pingSlotFrequency: 869525000,
		alternateDr:       eu868AlternateDr,
	},
	"AS923": {
		name:            "AS923",
		bandName:        loraband.AS_923,
		defaultChannels: 2,
		cfList:          true,
		txParamSetup:    true,
		defaults: Defaults{
			MaxRxWindow:      3 * time.Second,
			AckTimeout:       2 * time.Second,
			AckTimeoutRnd:    time.Second,
			AdrAckLimit:      64,
			AdrAckDelay:      32,
			TxPower:          0,
			MaxTxPower:       7,
			Datarate:         2,
			MinTxDatarate:    0,
			MaxTxDatarate:    7,
			MinRxDatarate:    0,
			MaxRxDatarate:    7,
			MaxRx1DROffset:   7,
			MaxEIRP:          16,
			AntennaGain:      2.15,
			DutyCycleEnabled: false,
			MaxChannels:      16,
			PingSlotDatarate: 3,
		},
		bands: []Band{
			{MinFrequency: 915000000, MaxFrequency: 928000000, DCycle: 100},
		},
		beacon: BeaconParams{
			Frequency:       923400000,
			Datarate:        3,
			Size:            17,
			RFU1Size:        2,
			RFU2Size:        0,
			Preamble:        10,
			SymbolToDefault: 8,
		},
		pingSlotFrequency: 923400000,
		uplinkDwellMinDR:  2,
		alternateDr:       as923AlternateDr,
	},
}

// eu868AlternateDr lowers the join data-rate every 8 trials, reaching DR0
// after 48 trials.
func eu868AlternateDr(currentDr uint8, nbTrials uint16) uint8 {
	switch {
	case nbTrials%48 == 0:
		return 0
	case nbTrials%32 == 0:
		return 1
	case nbTrials%24 == 0:
		return 2
	case nbTrials%16 == 0:
		return 3
	case nbTrials%8 == 0:
		return 4
	default:
		return 5
	}
}

func as923AlternateDr(currentDr uint8, nbTrials uint16) uint8 {
	return 2
}
