package mac

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/classb"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/lorawan"
)

var mibKeys = map[models.MibType]se.KeyID{
	models.MibAppKey:      se.AppKey,
	models.MibNwkKey:      se.NwkKey,
	models.MibJSIntKey:    se.JSIntKey,
	models.MibJSEncKey:    se.JSEncKey,
	models.MibFNwkSIntKey: se.FNwkSIntKey,
	models.MibSNwkSIntKey: se.SNwkSIntKey,
	models.MibNwkSEncKey:  se.NwkSEncKey,
	models.MibAppSKey:     se.AppSKey,
	models.MibMcKEKey:     se.McKEKey,
	models.MibMcKey0:      se.McKey0,
	models.MibMcKey1:      se.McKey1,
	models.MibMcKey2:      se.McKey2,
	models.MibMcKey3:      se.McKey3,
	models.MibMcAppSKey0:  se.McAppSKey0,
	models.MibMcAppSKey1:  se.McAppSKey1,
	models.MibMcAppSKey2:  se.McAppSKey2,
	models.MibMcAppSKey3:  se.McAppSKey3,
	models.MibMcNwkSKey0:  se.McNwkSKey0,
	models.MibMcNwkSKey1:  se.McNwkSKey1,
	models.MibMcNwkSKey2:  se.McNwkSKey2,
	models.MibMcNwkSKey3:  se.McNwkSKey3,
}

// MibGet returns the given information base parameter. The keys can not be
// read.
func (m *MAC) MibGet(t models.MibType) (models.MibParam, error) {
	p := m.ctx.Params
	d := m.ctx.DefaultParams
	cbp := m.sched.Params()
	out := models.MibParam{Type: t}

	switch t {
	case models.MibDeviceClass:
		out.Value = m.ctx.DeviceClass
	case models.MibNetworkActivation:
		out.Value = m.ctx.Activation
	case models.MibABPLrWanVersion:
		out.Value = m.crypto.Context().LrWanVersion
	case models.MibNetID:
		out.Value = m.ctx.NetID
	case models.MibDevAddr:
		out.Value = m.ctx.DevAddr
	case models.MibDevEUI:
		out.Value = m.crypto.SecureElement().GetDevEUI()
	case models.MibJoinEUI:
		out.Value = m.crypto.SecureElement().GetJoinEUI()
	case models.MibAdrEnable:
		out.Value = m.ctx.AdrEnabled
	case models.MibPublicNetwork:
		out.Value = m.ctx.PublicNetwork
	case models.MibRepeaterSupport:
		out.Value = m.ctx.RepeaterSupport
	case models.MibChannels:
		out.Value = m.region.State().Channels
	case models.MibRx2Channel:
		out.Value = p.Rx2Channel
	case models.MibRx2DefaultChannel:
		out.Value = d.Rx2Channel
	case models.MibRxCChannel:
		out.Value = p.RxCChannel
	case models.MibRxCDefaultChannel:
		out.Value = d.RxCChannel
	case models.MibChannelsMask:
		out.Value = m.region.State().ChannelsMask
	case models.MibChannelsDefaultMask:
		out.Value = m.region.State().ChannelsDefaultMask
	case models.MibChannelsNbTrans:
		out.Value = p.ChannelsNbTrans
	case models.MibMaxRxWindowDuration:
		out.Value = p.MaxRxWindow
	case models.MibReceiveDelay1:
		out.Value = p.ReceiveDelay1
	case models.MibReceiveDelay2:
		out.Value = p.ReceiveDelay2
	case models.MibJoinAcceptDelay1:
		out.Value = p.JoinAcceptDelay1
	case models.MibJoinAcceptDelay2:
		out.Value = p.JoinAcceptDelay2
	case models.MibChannelsDefaultDatarate:
		out.Value = d.ChannelsDatarate
	case models.MibChannelsDatarate:
		out.Value = p.ChannelsDatarate
	case models.MibChannelsTxPower:
		out.Value = p.ChannelsTxPower
	case models.MibChannelsDefaultTxPower:
		out.Value = d.ChannelsTxPower
	case models.MibSystemMaxRxError:
		out.Value = p.SystemMaxRxError
	case models.MibMinRxSymbols:
		out.Value = p.MinRxSymbols
	case models.MibAntennaGain:
		out.Value = p.AntennaGain
	case models.MibDefaultAntennaGain:
		out.Value = d.AntennaGain
	case models.MibAdrAckLimit:
		out.Value = p.AdrAckLimit
	case models.MibAdrAckDelay:
		out.Value = p.AdrAckDelay
	case models.MibBeaconInterval:
		out.Value = cbp.BeaconInterval
	case models.MibBeaconReserved:
		out.Value = cbp.BeaconReserved
	case models.MibBeaconGuard:
		out.Value = cbp.BeaconGuard
	case models.MibBeaconWindow:
		out.Value = cbp.BeaconWindow
	case models.MibBeaconWindowSlots:
		out.Value = cbp.BeaconWindowSlots
	case models.MibPingSlotWindow:
		out.Value = cbp.PingSlotWindow
	case models.MibBeaconSymbolToDefault:
		out.Value = cbp.BeaconSymbolToDefault
	case models.MibBeaconSymbolToExpansionMax:
		out.Value = cbp.BeaconSymbolToExpansionMax
	case models.MibPingSlotSymbolToExpansionMax:
		out.Value = cbp.PingSlotSymbolToExpansionMax
	case models.MibBeaconSymbolToExpansionFactor:
		out.Value = cbp.BeaconSymbolToExpansionFactor
	case models.MibPingSlotSymbolToExpansionFactor:
		out.Value = cbp.PingSlotSymbolToExpansionFactor
	case models.MibMaxBeaconLessPeriod:
		out.Value = cbp.MaxBeaconLessPeriod
	case models.MibPingSlotDatarate:
		out.Value = m.sched.Context().PingSlotDatarate
	case models.MibIsNetworkJoined:
		out.Value = m.joined()
	case models.MibContext:
		out.Value = m.Context()
	case models.MibRejoinParams:
		out.Value = RejoinParams{
			MaxTimeN:  m.ctx.RejoinMaxTimeN,
			MaxCountN: m.ctx.RejoinMaxCountN,
		}
	case models.MibFCntUp:
		out.Value = m.crypto.Context().FCntList.FCntUp
	default:
		return out, models.StatusParameterInvalid
	}

	return out, nil
}

// MibSet sets the given information base parameter. A value of the wrong
// type, an out of range value or a read-only parameter returns
// StatusParameterInvalid.
func (m *MAC) MibSet(mp models.MibParam) error {
	if id, ok := mibKeys[mp.Type]; ok {
		key, ok := mp.Value.(lorawan.AES128Key)
		if !ok {
			return models.StatusParameterInvalid
		}
		if err := m.crypto.SetKey(id, key); err != nil {
			log.WithError(err).WithField("key", id).Error("mac: set key error")
			return models.StatusCryptoError
		}
		return nil
	}

	switch mp.Type {
	case models.MibDeviceClass:
		v, ok := mp.Value.(models.DeviceClass)
		if !ok {
			return models.StatusParameterInvalid
		}
		return m.requestClass(v)
	case models.MibNetworkActivation:
		v, ok := mp.Value.(models.Activation)
		if !ok {
			return models.StatusParameterInvalid
		}
		return m.setActivation(v)
	case models.MibABPLrWanVersion:
		v, ok := mp.Value.(security.Version)
		if !ok {
			return models.StatusParameterInvalid
		}
		if err := m.crypto.SetLrWanVersion(v); err != nil {
			return models.StatusParameterInvalid
		}
	case models.MibNetID:
		v, ok := mp.Value.(lorawan.NetID)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.NetID = v
	case models.MibDevAddr:
		v, ok := mp.Value.(lorawan.DevAddr)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.DevAddr = v
	case models.MibDevEUI:
		v, ok := mp.Value.(lorawan.EUI64)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.crypto.SecureElement().SetDevEUI(v)
	case models.MibJoinEUI:
		v, ok := mp.Value.(lorawan.EUI64)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.crypto.SecureElement().SetJoinEUI(v)
	case models.MibAdrEnable:
		v, ok := mp.Value.(bool)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.AdrEnabled = v
	case models.MibPublicNetwork:
		v, ok := mp.Value.(bool)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.PublicNetwork = v
		m.radio.SetPublicNetwork(v)
	case models.MibRepeaterSupport:
		v, ok := mp.Value.(bool)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.RepeaterSupport = v
	case models.MibChannels:
		v, ok := mp.Value.([]band.Channel)
		if !ok {
			return models.StatusParameterInvalid
		}
		st := m.region.State()
		st.Channels = v
		if err := m.region.SetState(st); err != nil {
			return models.StatusParameterInvalid
		}
	case models.MibRx2Channel, models.MibRx2DefaultChannel, models.MibRxCChannel, models.MibRxCDefaultChannel:
		return m.setRxChannel(mp)
	case models.MibChannelsMask, models.MibChannelsDefaultMask:
		v, ok := mp.Value.([]uint16)
		if !ok || !m.region.ChanMaskSet(v, mp.Type == models.MibChannelsDefaultMask) {
			return models.StatusParameterInvalid
		}
	case models.MibChannelsNbTrans:
		v, ok := mp.Value.(uint8)
		if !ok || v < 1 || v > 15 {
			return models.StatusParameterInvalid
		}
		m.ctx.Params.ChannelsNbTrans = v
	case models.MibMaxRxWindowDuration, models.MibReceiveDelay1, models.MibReceiveDelay2,
		models.MibJoinAcceptDelay1, models.MibJoinAcceptDelay2, models.MibSystemMaxRxError:
		return m.setDuration(mp)
	case models.MibChannelsDefaultDatarate, models.MibChannelsDatarate:
		v, ok := mp.Value.(uint8)
		if !ok || !m.region.VerifyTxDatarate(v, m.ctx.Params.UplinkDwellTime) {
			return models.StatusParameterInvalid
		}
		if mp.Type == models.MibChannelsDefaultDatarate {
			m.ctx.DefaultParams.ChannelsDatarate = v
		} else {
			m.ctx.Params.ChannelsDatarate = v
		}
	case models.MibChannelsTxPower, models.MibChannelsDefaultTxPower:
		v, ok := mp.Value.(int8)
		if !ok || !m.region.VerifyTxPower(v) {
			return models.StatusParameterInvalid
		}
		if mp.Type == models.MibChannelsDefaultTxPower {
			m.ctx.DefaultParams.ChannelsTxPower = v
		} else {
			m.ctx.Params.ChannelsTxPower = v
		}
	case models.MibMinRxSymbols:
		v, ok := mp.Value.(uint8)
		if !ok {
			return models.StatusParameterInvalid
		}
		m.ctx.Params.MinRxSymbols = v
		m.ctx.DefaultParams.MinRxSymbols = v
	case models.MibAntennaGain, models.MibDefaultAntennaGain:
		v, ok := mp.Value.(float32)
		if !ok {
			return models.StatusParameterInvalid
		}
		if mp.Type == models.MibDefaultAntennaGain {
			m.ctx.DefaultParams.AntennaGain = v
		} else {
			m.ctx.Params.AntennaGain = v
		}
	case models.MibAdrAckLimit, models.MibAdrAckDelay:
		v, ok := mp.Value.(uint16)
		if !ok {
			return models.StatusParameterInvalid
		}
		if mp.Type == models.MibAdrAckLimit {
			m.ctx.Params.AdrAckLimit = v
		} else {
			m.ctx.Params.AdrAckDelay = v
		}
	case models.MibBeaconInterval, models.MibBeaconReserved, models.MibBeaconGuard,
		models.MibBeaconWindow, models.MibPingSlotWindow, models.MibMaxBeaconLessPeriod,
		models.MibBeaconWindowSlots, models.MibBeaconSymbolToDefault,
		models.MibBeaconSymbolToExpansionMax, models.MibPingSlotSymbolToExpansionMax,
		models.MibBeaconSymbolToExpansionFactor, models.MibPingSlotSymbolToExpansionFactor:
		return m.setClassBParam(mp)
	case models.MibPingSlotDatarate:
		v, ok := mp.Value.(uint8)
		if !ok || !m.region.VerifyRxDatarate(v) {
			return models.StatusParameterInvalid
		}
		c := m.sched.Context()
		c.PingSlotDatarate = v
		m.sched.SetContext(c)
	case models.MibRejoinParams:
		v, ok := mp.Value.(RejoinParams)
		if !ok || v.MaxTimeN > 15 || v.MaxCountN > 15 {
			return models.StatusParameterInvalid
		}
		m.dev.RejoinParamSetup(v.MaxTimeN, v.MaxCountN)
	default:
		return models.StatusParameterInvalid
	}

	return nil
}

func (m *MAC) setActivation(a models.Activation) error {
	switch a {
	case models.ActivationNone:
		m.ctx.Activation = a
		m.rejoin0Timer.Stop()
	case models.ActivationABP:
		m.ctx.Activation = a
		m.ctx.ResetIndPending = m.crypto.Context().LrWanVersion.Is11()
		m.openRxC()
	default:
		// OTAA is only set by a join-accept
		return models.StatusParameterInvalid
	}
	return nil
}

func (m *MAC) setRxChannel(mp models.MibParam) error {
	v, ok := mp.Value.(band.RxChannelParams)
	if !ok || !m.region.VerifyFrequency(v.Frequency) || !m.region.VerifyRxDatarate(v.Datarate) {
		return models.StatusParameterInvalid
	}

	switch mp.Type {
	case models.MibRx2Channel:
		m.ctx.Params.Rx2Channel = v
	case models.MibRx2DefaultChannel:
		m.ctx.DefaultParams.Rx2Channel = v
	case models.MibRxCChannel:
		m.ctx.Params.RxCChannel = v
		if m.rxSlot == models.RxSlotClassC {
			m.openRxC()
		}
	case models.MibRxCDefaultChannel:
		m.ctx.DefaultParams.RxCChannel = v
	}
	return nil
}

func (m *MAC) setDuration(mp models.MibParam) error {
	v, ok := mp.Value.(time.Duration)
	if !ok || v < 0 {
		return models.StatusParameterInvalid
	}

	p := &m.ctx.Params
	switch mp.Type {
	case models.MibMaxRxWindowDuration:
		p.MaxRxWindow = v
	case models.MibReceiveDelay1:
		p.ReceiveDelay1 = v
	case models.MibReceiveDelay2:
		p.ReceiveDelay2 = v
	case models.MibJoinAcceptDelay1:
		p.JoinAcceptDelay1 = v
	case models.MibJoinAcceptDelay2:
		p.JoinAcceptDelay2 = v
	case models.MibSystemMaxRxError:
		p.SystemMaxRxError = v
		m.ctx.DefaultParams.SystemMaxRxError = v
	}
	return nil
}

func (m *MAC) setClassBParam(mp models.MibParam) error {
	bp := m.sched.Params()

	switch mp.Type {
	case models.MibBeaconWindowSlots, models.MibBeaconSymbolToDefault,
		models.MibBeaconSymbolToExpansionMax, models.MibPingSlotSymbolToExpansionMax,
		models.MibBeaconSymbolToExpansionFactor, models.MibPingSlotSymbolToExpansionFactor:
		v, ok := mp.Value.(uint16)
		if !ok {
			return models.StatusParameterInvalid
		}
		setClassBUint16(&bp, mp.Type, v)
	default:
		v, ok := mp.Value.(time.Duration)
		if !ok || v <= 0 {
			return models.StatusParameterInvalid
		}
		setClassBDuration(&bp, mp.Type, v)
	}

	m.sched.SetParams(bp)
	return nil
}

func setClassBUint16(bp *classb.Params, t models.MibType, v uint16) {
	switch t {
	case models.MibBeaconWindowSlots:
		bp.BeaconWindowSlots = v
	case models.MibBeaconSymbolToDefault:
		bp.BeaconSymbolToDefault = v
	case models.MibBeaconSymbolToExpansionMax:
		bp.BeaconSymbolToExpansionMax = v
	case models.MibPingSlotSymbolToExpansionMax:
		bp.PingSlotSymbolToExpansionMax = v
	case models.MibBeaconSymbolToExpansionFactor:
		bp.BeaconSymbolToExpansionFactor = v
	case models.MibPingSlotSymbolToExpansionFactor:
		bp.PingSlotSymbolToExpansionFactor = v
	}
}

func setClassBDuration(bp *classb.Params, t models.MibType, v time.Duration) {
	switch t {
	case models.MibBeaconInterval:
		bp.BeaconInterval = v
	case models.MibBeaconReserved:
		bp.BeaconReserved = v
	case models.MibBeaconGuard:
		bp.BeaconGuard = v
	case models.MibBeaconWindow:
		bp.BeaconWindow = v
	case models.MibPingSlotWindow:
		bp.PingSlotWindow = v
	case models.MibMaxBeaconLessPeriod:
		bp.MaxBeaconLessPeriod = v
	}
}

// requestClass switches the class on request of the upper layer. A LoRaWAN
// 1.1 device also informs the network with a DeviceModeInd.
func (m *MAC) requestClass(c models.DeviceClass) error {
	if err := m.switchClass(c); err != nil {
		return err
	}

	if c != models.ClassB && m.joined() && m.crypto.Context().LrWanVersion.Is11() {
		mode := lorawan.DeviceModeClassA
		if c == models.ClassC {
			mode = lorawan.DeviceModeClassC
		}
		if err := maccommand.RequestDeviceMode(&m.buffer, mode); err != nil {
			log.WithError(err).Warning("mac: add device_mode_ind error")
		}
	}
	return nil
}

// switchClass switches the device class. Class B requires a locked beacon
// and an assigned ping-slot, class B and C can only be entered from class A.
func (m *MAC) switchClass(c models.DeviceClass) error {
	cur := m.ctx.DeviceClass
	if c == cur {
		return nil
	}

	switch c {
	case models.ClassA:
		if cur == models.ClassB {
			if err := m.sched.SwitchClass(models.ClassA); err != nil {
				return models.StatusClassBError
			}
		}
		m.ctx.DeviceClass = models.ClassA
		if cur == models.ClassC && m.rxSlot == models.RxSlotClassC {
			m.rxSlot = models.RxSlotNone
			m.radio.Sleep()
		}
	case models.ClassB:
		if cur != models.ClassA {
			return models.StatusParameterInvalid
		}
		if err := m.sched.SwitchClass(models.ClassB); err != nil {
			return models.StatusClassBError
		}
		m.ctx.DeviceClass = models.ClassB
	case models.ClassC:
		if cur != models.ClassA {
			return models.StatusParameterInvalid
		}
		m.ctx.DeviceClass = models.ClassC
		if !m.IsBusy() {
			m.openRxC()
		}
	default:
		return models.StatusParameterInvalid
	}

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"from": cur,
		"to":   c,
	}).Info("mac: device class switched")

	return nil
}
