package mac

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/lorawan"
)

func isClassAWindow(slot models.RxSlot) bool {
	return slot == models.RxSlotWin1 || slot == models.RxSlotWin2
}

func (m *MAC) openRxWindow1() {
	if m.state&stateTxRunning == 0 || m.rxWindowsClosed || m.macDone {
		return
	}

	m.rxWindowSetup(models.RxSlotWin1, band.RxConfigParams{
		Channel:       m.channel,
		Datarate:      m.rx1Params.Datarate,
		SymbolTimeout: m.rx1Params.SymbolTimeout,
	})
}

func (m *MAC) openRxWindow2() {
	if m.state&(stateTxRunning|stateRxAbort) != stateTxRunning || m.rxWindowsClosed || m.macDone {
		return
	}

	m.rxWindowSetup(models.RxSlotWin2, band.RxConfigParams{
		Frequency:     m.ctx.Params.Rx2Channel.Frequency,
		Datarate:      m.rx2Params.Datarate,
		SymbolTimeout: m.rx2Params.SymbolTimeout,
	})
}

// openRxC opens the continuous class C window. It is a no-op for the
// other classes.
func (m *MAC) openRxC() {
	if m.ctx.DeviceClass != models.ClassC || !m.joined() {
		return
	}

	c := m.ctx.Params.RxCChannel
	m.rxWindowSetup(models.RxSlotClassC, band.RxConfigParams{
		Frequency:    c.Frequency,
		Datarate:     c.Datarate,
		RxContinuous: true,
	})
}

// sleepOrRxC puts the radio to sleep, or back in RXC for class C.
func (m *MAC) sleepOrRxC() {
	if m.ctx.DeviceClass == models.ClassC && m.joined() {
		m.openRxC()
		return
	}
	m.rxSlot = models.RxSlotNone
	m.radio.Sleep()
}

func (m *MAC) rxWindowSetup(slot models.RxSlot, p band.RxConfigParams) {
	m.rxBeacon = false

	freq, conf, err := m.region.RxConfig(p)
	if err != nil {
		log.WithFields(m.logFields()).WithError(err).WithField("rx_slot", slot).Error("mac: rx config error")
		m.rxSlot = slot
		m.signal(eventRxError)
		return
	}

	var timeout time.Duration
	if !p.RxContinuous {
		timeout = m.ctx.Params.MaxRxWindow
	}

	m.radio.Standby()
	m.radio.SetChannel(freq)
	m.radio.SetRxConfig(conf)
	m.rxSlot = slot
	m.rxDatarate = p.Datarate
	m.radio.Receive(timeout)

	if !p.Beacon {
		rxWindowCounter(slot).Inc()
	}

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"rx_slot":   slot,
		"frequency": freq,
		"dr":        p.Datarate,
		"symb_to":   p.SymbolTimeout,
	}).Debug("mac: rx window opened")
}

func (m *MAC) handleRxDone() {
	m.rxMu.Lock()
	payload, rssi, snr := m.rxPayload, m.rxRSSI, m.rxSNR
	m.rxPayload = nil
	m.rxMu.Unlock()

	m.rxDoneAt = m.clock.Now()

	if m.rxBeacon {
		m.rxBeacon = false
		if m.sched.RxBeacon(payload, rssi, snr) {
			return
		}
	}

	slot := m.rxSlot
	if slot == models.RxSlotNone {
		return
	}
	if slot != models.RxSlotClassC {
		m.rxSlot = models.RxSlotNone
		m.radio.Sleep()
	}

	accepted := m.handleFrame(payload, rssi, snr, slot)

	switch slot {
	case models.RxSlotWin1:
		if accepted {
			m.rx2Timer.Stop()
			m.macDone = true
		}
		m.sleepOrRxC()
	case models.RxSlotWin2:
		m.macDone = true
		m.sleepOrRxC()
	case models.RxSlotClassBPingSlot, models.RxSlotClassBMulticastSlot:
		m.sched.SlotDone(slot)
	case models.RxSlotClassC:
		m.openRxC()
	}
}

// handleRxClosed handles a receive timeout or error of the window that was
// open.
func (m *MAC) handleRxClosed(isError bool) {
	if m.rxBeacon {
		m.rxBeacon = false
		m.sched.RxBeaconTimeout()
		return
	}

	slot := m.rxSlot
	m.rxSlot = models.RxSlotNone

	switch slot {
	case models.RxSlotWin1:
		if m.nodeAckRequested && !m.mcpsConfirm.AckReceived {
			m.mcpsConfirm.Status = models.EventInfoStatusRx1Timeout
			if isError {
				m.mcpsConfirm.Status = models.EventInfoStatusRx1Error
			}
		}
		m.sleepOrRxC()
	case models.RxSlotWin2:
		if m.nodeAckRequested && !m.mcpsConfirm.AckReceived {
			m.mcpsConfirm.Status = models.EventInfoStatusRx2Timeout
			if isError {
				m.mcpsConfirm.Status = models.EventInfoStatusRx2Error
			}
		}
		m.sleepOrRxC()
		m.macDone = true
	case models.RxSlotClassBPingSlot, models.RxSlotClassBMulticastSlot:
		m.radio.Sleep()
		m.sched.SlotDone(slot)
	case models.RxSlotClassC:
		m.openRxC()
	}
}

// handleFrame dispatches the received frame by message type. It returns true
// when the frame was accepted.
func (m *MAC) handleFrame(b []byte, rssi int16, snr int8, slot models.RxSlot) bool {
	hdr, err := codec.ParseMHDR(b)
	if err != nil {
		downlinkErrorCounter("parse").Inc()
		return false
	}

	m.cmdSNR = snr
	m.mcpsInd = models.McpsIndication{
		Status:     models.EventInfoStatusOK,
		RxDatarate: m.rxDatarate,
		RSSI:       rssi,
		SNR:        snr,
		RxSlot:     slot,
	}

	switch hdr.MType() {
	case lorawan.JoinAccept:
		return m.handleJoinAccept(b, slot)
	case lorawan.UnconfirmedDataDown, lorawan.ConfirmedDataDown:
		return m.handleDataDown(b, slot)
	case lorawan.Proprietary:
		m.mcpsInd.Type = models.McpsProprietary
		m.mcpsInd.Buffer = append([]byte(nil), b[1:]...)
		m.mcpsInd.RxData = true
		m.mcpsIndPending = true
		downlinkCounter(hdr.MType().String(), slot).Inc()
		return true
	default:
		downlinkErrorCounter("mtype").Inc()
		return false
	}
}

// handleJoinAccept handles the answer to a pending join or rejoin request.
func (m *MAC) handleJoinAccept(b []byte, slot models.RxSlot) bool {
	jr := m.joinReq
	if jr == nil || m.kind != txJoin || !isClassAWindow(slot) {
		downlinkErrorCounter("unexpected_join_accept").Inc()
		return false
	}

	ja, err := m.crypto.HandleJoinAccept(jr.reqType, m.crypto.SecureElement().GetJoinEUI(), b)
	if err != nil {
		log.WithFields(m.logFields()).WithError(err).Warning("mac: handle join-accept error")
		downlinkErrorCounter("join_accept").Inc()
		return false
	}

	p := &m.ctx.Params
	m.ctx.NetID = ja.NetID
	m.ctx.DevAddr = ja.DevAddr
	p.Rx1DrOffset = ja.DLSettings.RX1DROffset()
	p.Rx2Channel.Datarate = ja.DLSettings.RX2DataRate()
	p.RxCChannel.Datarate = ja.DLSettings.RX2DataRate()

	delay := time.Duration(ja.RxDelay&0x0f) * time.Second
	if delay == 0 {
		delay = time.Second
	}
	p.ReceiveDelay1 = delay
	p.ReceiveDelay2 = delay + time.Second

	if len(ja.CFList) > 0 {
		if err := m.region.ApplyCFList(ja.CFList); err != nil {
			log.WithFields(m.logFields()).WithError(err).Warning("mac: apply cflist error")
		}
	}

	m.mlmeConfirm.NbRetries = uint8(m.ctx.JoinRequestTrials)
	m.ctx.Activation = models.ActivationOTAA
	m.ctx.AdrAckCounter = 0
	m.ctx.SrvAckRequested = false
	m.ctx.JoinRequestTrials = 0
	m.ctx.RejoinUplinks = 0
	m.ctx.RekeyIndPending = m.crypto.Context().LrWanVersion.Is11()
	m.ctx.RekeyIndUplinks = 0
	m.buffer.Reset()

	jr.accepted = true
	if !jr.internal {
		m.queue.SetStatus(models.EventInfoStatusOK, jr.mlme)
	}

	downlinkCounter(lorawan.JoinAccept.String(), slot).Inc()
	log.WithFields(m.logFields()).WithFields(log.Fields{
		"dev_addr": ja.DevAddr,
		"net_id":   ja.NetID,
		"rx_delay": delay,
		"version":  m.crypto.Context().LrWanVersion,
	}).Info("mac: join-accept received")

	return true
}

func (m *MAC) multicastChannel(addr lorawan.DevAddr) *models.MulticastChannelParams {
	for i := range m.ctx.MulticastChannels {
		c := &m.ctx.MulticastChannels[i]
		if c.IsEnabled && c.Address == addr {
			return c
		}
	}
	return nil
}

func (m *MAC) fCntID(mc *models.MulticastChannelParams, frame codec.DataFrame) security.FCntID {
	if mc != nil {
		return security.McFCntIDForAddrID(security.AddrID(mc.GroupID))
	}
	if !m.crypto.Context().LrWanVersion.Is11() {
		return security.FCntDown
	}
	if frame.FPort != nil && *frame.FPort > 0 {
		return security.AFCntDown
	}
	return security.NFCntDown
}

// rejectDownlink drops the received frame. When the frame carried the
// unicast address and was received in RX1 or RX2, the exchange ends without
// waiting for the other window.
func (m *MAC) rejectDownlink(slot models.RxSlot, status models.EventInfoStatus, reason string, unicast bool) {
	downlinkErrorCounter(reason).Inc()
	log.WithFields(m.logFields()).WithFields(log.Fields{
		"reason":  reason,
		"rx_slot": slot,
	}).Warning("mac: downlink dropped")

	m.mcpsInd.Status = status
	m.mcpsInd.RxData = false
	m.mcpsIndPending = true

	if unicast && isClassAWindow(slot) && m.state&stateTxRunning != 0 && m.kind != txJoin {
		m.state |= stateRxAbort
		m.rx2Timer.Stop()
		m.macDone = true
	}
}

// handleDataDown validates, decrypts and dispatches a data downlink.
func (m *MAC) handleDataDown(b []byte, slot models.RxSlot) bool {
	var frame codec.DataFrame
	if err := frame.UnmarshalBinary(b); err != nil && err != codec.ErrFPort {
		log.WithFields(m.logFields()).WithError(err).Warning("mac: parse downlink error")
		downlinkErrorCounter("parse").Inc()
		return false
	}
	if !m.joined() {
		downlinkErrorCounter("not_joined").Inc()
		return false
	}

	addrID := security.UnicastDevAddr
	var mc *models.MulticastChannelParams
	if frame.FHDR.DevAddr != m.ctx.DevAddr {
		mc = m.multicastChannel(frame.FHDR.DevAddr)
		if mc == nil {
			m.rejectDownlink(slot, models.EventInfoStatusAddressFail, "address", false)
			return false
		}
		addrID = security.AddrID(mc.GroupID)
	}
	unicast := mc == nil
	confirmed := frame.MHDR.MType() == lorawan.ConfirmedDataDown
	port0 := frame.FPort != nil && *frame.FPort == 0

	if !unicast && (confirmed || frame.FHDR.FCtrl.ACK() || frame.FHDR.FCtrl.ADRACKReq() || len(frame.FHDR.FOpts) > 0 || port0) {
		m.rejectDownlink(slot, models.EventInfoStatusMulticastFail, "multicast", false)
		return false
	}
	if port0 && len(frame.FHDR.FOpts) > 0 {
		m.rejectDownlink(slot, models.EventInfoStatusError, "fopts_port0", true)
		return false
	}

	fCntID := m.fCntID(mc, frame)
	fCnt, err := m.crypto.GetFCntDown(fCntID, uint16(m.region.Defaults().MaxFCntGap), frame.FHDR.FCnt)
	switch errors.Cause(err) {
	case nil:
	case security.ErrFCntDuplicated:
		if unicast && confirmed && !m.crypto.Context().LrWanVersion.Is11() {
			// the ack of the previous downlink was lost
			m.ctx.SrvAckRequested = true
		}
		m.rejectDownlink(slot, models.EventInfoStatusDownlinkRepeated, "fcnt_duplicated", unicast)
		return false
	case security.ErrMaxGapExceeded:
		m.rejectDownlink(slot, models.EventInfoStatusDownlinkTooManyFramesLoss, "fcnt_gap", unicast)
		return false
	default:
		log.WithFields(m.logFields()).WithError(err).Error("mac: get downlink frame-counter error")
		m.rejectDownlink(slot, models.EventInfoStatusError, "fcnt", unicast)
		return false
	}

	if mc != nil && (fCnt < mc.FCountMin || fCnt > mc.FCountMax) {
		m.rejectDownlink(slot, models.EventInfoStatusMulticastFail, "multicast_fcnt", false)
		return false
	}

	if err := m.crypto.UnsecureMessage(addrID, frame.FHDR.DevAddr, fCntID, fCnt, b, &frame); err != nil {
		switch errors.Cause(err) {
		case security.ErrMICFail:
			m.rejectDownlink(slot, models.EventInfoStatusMICFail, "mic", unicast)
		case security.ErrAddressFail:
			m.rejectDownlink(slot, models.EventInfoStatusAddressFail, "address", unicast)
		default:
			log.WithFields(m.logFields()).WithError(err).Error("mac: unsecure downlink error")
			m.rejectDownlink(slot, models.EventInfoStatusError, "crypto", unicast)
		}
		return false
	}

	ind := &m.mcpsInd
	ind.Type = models.McpsUnconfirmed
	if confirmed {
		ind.Type = models.McpsConfirmed
	}
	if !unicast {
		ind.Type = models.McpsMulticast
		ind.Multicast = true
	}
	ind.FramePending = frame.FHDR.FCtrl.FPending()
	ind.DownLinkCounter = fCnt
	ind.DevAddress = frame.FHDR.DevAddr
	m.mcpsIndPending = true

	cmds := frame.FHDR.FOpts
	if frame.FPort != nil {
		ind.FPort = *frame.FPort
		if port0 {
			cmds = frame.FRMPayload
		} else {
			ind.Buffer = frame.FRMPayload
			ind.RxData = true
		}
	}

	if unicast {
		m.ctx.AdrAckCounter = 0
		m.ctx.SrvAckRequested = confirmed
		if isClassAWindow(slot) {
			m.buffer.RemoveStickyAnswers()
		}

		if frame.FHDR.FCtrl.ACK() && m.nodeAckRequested && m.state&stateTxRunning != 0 {
			m.mcpsConfirm.AckReceived = true
			m.mcpsConfirm.Status = models.EventInfoStatusOK
			m.retransmitTimer.Stop()
			ind.AckReceived = true
		}
		if m.state&stateTxRunning != 0 {
			m.downlinkReceived = true
		}

		if len(cmds) > 0 {
			if err := maccommand.Process(m.exchange, m.dev, cmds); err != nil {
				log.WithFields(m.logFields()).WithError(err).Warning("mac: process mac-commands error")
			}
		}

		if m.buffer.StickyPending() || (confirmed && !isClassAWindow(slot)) {
			m.indicate(models.MlmeScheduleUplink, models.EventInfoStatusOK)
		}
	}

	downlinkCounter(frame.MHDR.MType().String(), slot).Inc()
	log.WithFields(m.logFields()).WithFields(log.Fields{
		"mtype":     frame.MHDR.MType(),
		"fcnt":      fCnt,
		"rx_slot":   slot,
		"multicast": !unicast,
		"ack":       frame.FHDR.FCtrl.ACK(),
	}).Info("mac: downlink received")

	return true
}
