package models

// MibType identifies a parameter of the MAC information base.
type MibType int

// Information base parameters.
const (
	MibDeviceClass MibType = iota
	MibNetworkActivation
	MibABPLrWanVersion
	MibNetID
	MibDevAddr
	MibDevEUI
	MibJoinEUI
	MibAppKey
	MibNwkKey
	MibJSIntKey
	MibJSEncKey
	MibFNwkSIntKey
	MibSNwkSIntKey
	MibNwkSEncKey
	MibAppSKey
	MibMcKEKey
	MibMcKey0
	MibMcKey1
	MibMcKey2
	MibMcKey3
	MibMcAppSKey0
	MibMcAppSKey1
	MibMcAppSKey2
	MibMcAppSKey3
	MibMcNwkSKey0
	MibMcNwkSKey1
	MibMcNwkSKey2
	MibMcNwkSKey3
	MibAdrEnable
	MibPublicNetwork
	MibRepeaterSupport
	MibChannels
	MibRx2Channel
	MibRx2DefaultChannel
	MibRxCChannel
	MibRxCDefaultChannel
	MibChannelsMask
	MibChannelsDefaultMask
	MibChannelsNbTrans
	MibMaxRxWindowDuration
	MibReceiveDelay1
	MibReceiveDelay2
	MibJoinAcceptDelay1
	MibJoinAcceptDelay2
	MibChannelsDefaultDatarate
	MibChannelsDatarate
	MibChannelsTxPower
	MibChannelsDefaultTxPower
	MibSystemMaxRxError
	MibMinRxSymbols
	MibAntennaGain
	MibDefaultAntennaGain
	MibAdrAckLimit
	MibAdrAckDelay
	MibBeaconInterval
	MibBeaconReserved
	MibBeaconGuard
	MibBeaconWindow
	MibBeaconWindowSlots
	MibPingSlotWindow
	MibBeaconSymbolToDefault
	MibBeaconSymbolToExpansionMax
	MibPingSlotSymbolToExpansionMax
	MibBeaconSymbolToExpansionFactor
	MibPingSlotSymbolToExpansionFactor
	MibMaxBeaconLessPeriod
	MibPingSlotDatarate
	MibIsNetworkJoined
	MibContext
	MibRejoinParams
	MibFCntUp
)

// MibParam holds an information base parameter. The type of Value depends
// on Type, e.g. bool for MibAdrEnable or time.Duration for
// MibReceiveDelay1.
type MibParam struct {
	Type  MibType
	Value interface{}
}
