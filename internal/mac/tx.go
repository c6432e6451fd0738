package mac

import (
	"math"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/adr"
	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/lorawan"
)

// aggregatedTimeOff returns the time the device must stay silent after a
// transmission given the aggregated duty-cycle (1 / 2^MaxDCycle).
func aggregatedTimeOff(toa time.Duration, aggregatedDCycle uint16) time.Duration {
	off := toa*time.Duration(aggregatedDCycle) - toa
	if off < 0 {
		return 0
	}
	return off
}

func (m *MAC) validPort(p uint8) bool {
	if p >= 1 && p <= 223 {
		return true
	}
	return p == 224 && m.complianceTest
}

// McpsRequest sends an uplink. The McpsConfirm is delivered once all the
// transmissions and their receive windows are done. StatusSkippedAppData is
// returned when the pending mac-commands did not fit together with the
// payload: the frame is sent with the mac-commands only.
func (m *MAC) McpsRequest(req models.McpsReq) error {
	if m.IsBusy() {
		return models.StatusBusy
	}
	if !m.joined() {
		return models.StatusNoNetworkJoined
	}

	switch req.Type {
	case models.McpsUnconfirmed, models.McpsConfirmed, models.McpsProprietary:
	default:
		return models.StatusParameterInvalid
	}

	if req.Type != models.McpsProprietary && len(req.Payload) > 0 && !m.validPort(req.FPort) {
		return models.StatusParameterInvalid
	}

	p := &m.ctx.Params
	if !m.ctx.AdrEnabled {
		if !m.region.VerifyTxDatarate(req.Datarate, p.UplinkDwellTime) {
			return models.StatusDatarateInvalid
		}
		p.ChannelsDatarate = req.Datarate
	}

	maxN, err := m.region.MaxPayloadSize(p.ChannelsDatarate)
	if err != nil {
		return models.StatusDatarateInvalid
	}
	if len(req.Payload) > maxN {
		return models.StatusLengthError
	}

	m.newExchange()
	m.mcpsConfirm = models.McpsConfirm{
		Type:   req.Type,
		Status: models.EventInfoStatusError,
	}
	m.downlinkReceived = false
	m.txTimedOut = false
	m.nbTransCounter = 0
	m.retransmitPending = false
	m.nodeAckRequested = req.Type == models.McpsConfirmed
	if m.nodeAckRequested {
		m.ackRetries = req.NbTrials
		if m.ackRetries == 0 {
			m.ackRetries = p.ChannelsNbTrans
		}
		if m.ackRetries > maxAckRetries {
			m.ackRetries = maxAckRetries
		}
		m.ackRetriesCounter = 1
	}

	var status error
	if req.Type == models.McpsProprietary {
		m.kind = txProprietary
		m.txCmdsSize = 0
		m.txBuf = append([]byte{byte(codec.NewMHDR(lorawan.Proprietary, lorawan.LoRaWANR1))}, req.Payload...)
	} else {
		m.kind = txData
		status = m.prepareFrame(req)
		if status != nil && status != models.StatusSkippedAppData {
			m.nodeAckRequested = false
			return status
		}
	}

	if err := m.scheduleTx(req.AllowDelayedTx); err != nil {
		m.nodeAckRequested = false
		return err
	}

	if m.txCmdsSize > 0 {
		m.buffer.RemoveSerialized(m.txCmdsSize)
		m.txCmdsSize = 0
	}
	m.mcpsConfirmPending = true

	return status
}

// prepareFrame builds the data frame. The mac-commands are put in the FOpts
// when they fit, else they are sent on port 0 without the payload.
func (m *MAC) prepareFrame(req models.McpsReq) error {
	mType := lorawan.UnconfirmedDataUp
	if req.Type == models.McpsConfirmed {
		mType = lorawan.ConfirmedDataUp
	}

	adrAckReq, err := m.calcNextAdr()
	if err != nil {
		log.WithFields(m.logFields()).WithError(err).Error("mac: calculate adr error")
	}
	maxN, err := m.region.MaxPayloadSize(m.ctx.Params.ChannelsDatarate)
	if err != nil {
		return models.StatusDatarateInvalid
	}

	var fCtrl codec.FCtrl
	fCtrl.SetADR(m.ctx.AdrEnabled)
	fCtrl.SetADRACKReq(adrAckReq)
	fCtrl.SetACK(m.ctx.SrvAckRequested)
	fCtrl.SetClassB(m.ctx.DeviceClass == models.ClassB)
	m.ctx.SrvAckRequested = false

	if !m.addSessionIndications() {
		return models.StatusNoNetworkJoined
	}

	frame := codec.DataFrame{
		MHDR: codec.NewMHDR(mType, lorawan.LoRaWANR1),
		FHDR: codec.FHDR{
			DevAddr: m.ctx.DevAddr,
			FCtrl:   fCtrl,
		},
	}
	if len(req.Payload) > 0 {
		port := req.FPort
		frame.FPort = &port
		frame.FRMPayload = make([]byte, len(req.Payload))
		copy(frame.FRMPayload, req.Payload)
	}

	var status error
	m.txCmdsSize = 0
	if cmdSize := m.buffer.SerializedSize(); cmdSize > 0 {
		if len(req.Payload) > 0 && cmdSize <= codec.MaxFOptsLen && cmdSize+len(req.Payload) <= maxN {
			frame.FHDR.FOpts = m.buffer.Serialize(codec.MaxFOptsLen)
			m.txCmdsSize = codec.MaxFOptsLen
		} else {
			if len(req.Payload) > 0 {
				status = models.StatusSkippedAppData
			}
			port := uint8(0)
			frame.FPort = &port
			frame.FRMPayload = m.buffer.Serialize(maxN)
			m.txCmdsSize = maxN
		}
	}

	if len(frame.FHDR.FOpts)+len(frame.FRMPayload) > maxN {
		return models.StatusLengthError
	}

	m.txFrame = frame
	m.txFCnt = m.crypto.GetFCntUp()

	return status
}

// addSessionIndications adds the LoRaWAN 1.1 ResetInd (ABP) or RekeyInd
// (OTAA) until the network confirms it. It returns false when the join has
// been reverted.
func (m *MAC) addSessionIndications() bool {
	if !m.crypto.Context().LrWanVersion.Is11() {
		return true
	}

	if m.ctx.Activation == models.ActivationABP && m.ctx.ResetIndPending {
		if _, ok := m.buffer.Get(lorawan.ResetInd); !ok {
			if err := maccommand.RequestReset(&m.buffer, 1); err != nil {
				log.WithError(err).Warning("mac: add reset_ind error")
			}
		}
	}

	if m.ctx.Activation == models.ActivationOTAA && m.ctx.RekeyIndPending {
		m.ctx.RekeyIndUplinks++
		if m.ctx.RekeyIndUplinks > m.ctx.Params.AdrAckLimit {
			// the network never confirmed the session
			log.WithFields(m.logFields()).Warning("mac: no rekey_conf received, reverting join")
			m.ctx.Activation = models.ActivationNone
			m.ctx.RekeyIndPending = false
			m.indicate(models.MlmeRevertJoin, models.EventInfoStatusOK)
			return false
		}
		if _, ok := m.buffer.Get(lorawan.RekeyInd); !ok {
			if err := maccommand.RequestRekey(&m.buffer, 1); err != nil {
				log.WithError(err).Warning("mac: add rekey_ind error")
			}
		}
	}

	return true
}

// calcNextAdr runs the ADR handler and applies its outcome. It returns the
// ADRACKReq bit of the next uplink.
func (m *MAC) calcNextAdr() (bool, error) {
	p := &m.ctx.Params
	d := m.region.Defaults()

	resp, err := m.adr.CalcNext(adr.CalcNextRequest{
		Region:          m.region.Name(),
		Version:         m.crypto.Context().LrWanVersion.String(),
		AdrEnabled:      m.ctx.AdrEnabled,
		UplinkDwellTime: p.UplinkDwellTime,
		Datarate:        int(p.ChannelsDatarate),
		TxPower:         int(p.ChannelsTxPower),
		NbTrans:         int(p.ChannelsNbTrans),
		AdrAckCounter:   m.ctx.AdrAckCounter,
		AdrAckLimit:     p.AdrAckLimit,
		AdrAckDelay:     p.AdrAckDelay,
		MinTxDatarate:   int(d.MinTxDatarate),
		DefaultTxPower:  int(d.TxPower),
	})
	if err != nil {
		return false, errors.Wrap(err, "adr handler error")
	}

	p.ChannelsDatarate = uint8(resp.Datarate)
	p.ChannelsTxPower = int8(resp.TxPower)
	if resp.NbTrans > 0 {
		p.ChannelsNbTrans = uint8(resp.NbTrans)
	}
	if resp.RestoreDefaultChannels {
		m.restoreDefaultChannels()
	}

	return resp.AdrAckReq, nil
}

func (m *MAC) restoreDefaultChannels() {
	st := m.region.State()
	m.region.ChanMaskSet(st.ChannelsDefaultMask, false)
}

func (m *MAC) rxDelays() (time.Duration, time.Duration) {
	p := m.ctx.Params
	if m.kind == txJoin {
		return p.JoinAcceptDelay1, p.JoinAcceptDelay2
	}
	return p.ReceiveDelay1, p.ReceiveDelay2
}

func (m *MAC) frameSize() int {
	if m.kind == txData {
		return m.txFrame.Size()
	}
	return len(m.txBuf)
}

// scheduleTx selects the channel, computes the receive windows and sends the
// frame. When allowDelayed is set, a duty-cycle or beacon restriction delays
// the transmission instead of failing.
func (m *MAC) scheduleTx(allowDelayed bool) error {
	p := &m.ctx.Params
	dr := p.ChannelsDatarate
	now := m.clock.Now()

	if m.kind == txData {
		maxN, err := m.region.MaxPayloadSize(dr)
		if err != nil || len(m.txFrame.FHDR.FOpts)+len(m.txFrame.FRMPayload) > maxN {
			return models.StatusLengthError
		}
	}

	_, _, toa, err := m.region.TxConfig(band.TxConfigParams{
		Channel:  0,
		Datarate: dr,
		TxPower:  p.ChannelsTxPower,
		PktLen:   m.frameSize(),
	})
	if err != nil {
		return errors.Wrap(err, "time on air error")
	}

	_, delay2 := m.rxDelays()
	if wait := m.sched.UplinkCollision(delay2, toa); wait > 0 {
		if !allowDelayed {
			return models.StatusBusyBeaconReservedTime
		}
		m.delayTx(wait)
		return nil
	}

	ch, wait, err := m.region.NextChannel(band.NextChannelParams{
		Now:                 now,
		AggrTimeOff:         m.ctx.AggregatedTimeOff,
		LastAggrTx:          m.ctx.LastAggrTx,
		Datarate:            dr,
		Joined:              m.joined(),
		DutyCycleEnabled:    m.ctx.DutyCycleOn,
		ElapsedSinceStartup: now.Sub(m.ctx.InitializationTime),
		TimeOnAir:           toa,
		LastTxIsJoinRequest: m.kind == txJoin,
		Intn:                m.intn,
	})
	switch errors.Cause(err) {
	case nil:
	case band.ErrDutyCycleRestricted:
		m.dutyCycleWait = wait
		if allowDelayed && wait > 0 {
			m.delayTx(wait)
			return nil
		}
		return models.StatusDutyCycleRestricted
	case band.ErrNoChannelFound:
		return models.StatusNoChannelFound
	default:
		return errors.Wrap(err, "select channel error")
	}
	m.channel = ch
	m.dutyCycleWait = 0

	if err := m.computeRxWindows(dr); err != nil {
		return err
	}

	if m.kind == txData {
		b, err := m.crypto.SecureMessage(m.txFCnt, dr, uint8(ch), &m.txFrame)
		if err != nil {
			log.WithFields(m.logFields()).WithError(err).Error("mac: secure uplink error")
			return models.StatusCryptoError
		}
		m.txBuf = b
	}

	return m.sendFrameOnChannel(ch)
}

func (m *MAC) delayTx(wait time.Duration) {
	m.state |= stateTxDelayed
	m.txDelayedTimer.Start(wait)

	log.WithFields(m.logFields()).WithField("wait", wait).Info("mac: uplink delayed")
}

func (m *MAC) computeRxWindows(dr uint8) error {
	p := m.ctx.Params

	rx1DR := m.region.ApplyDrOffset(dr, p.Rx1DrOffset, p.DownlinkDwellTime)
	rx1, err := m.region.ComputeRxWindowParameters(rx1DR, p.MinRxSymbols, p.SystemMaxRxError)
	if err != nil {
		return errors.Wrap(err, "compute rx1 window error")
	}
	rx2, err := m.region.ComputeRxWindowParameters(p.Rx2Channel.Datarate, p.MinRxSymbols, p.SystemMaxRxError)
	if err != nil {
		return errors.Wrap(err, "compute rx2 window error")
	}

	delay1, delay2 := m.rxDelays()
	m.rx1Params = rx1
	m.rx2Params = rx2
	m.rx1Delay = delay1 + rx1.WindowOffset
	m.rx2Delay = delay2 + rx2.WindowOffset

	return nil
}

func (m *MAC) sendFrameOnChannel(ch int) error {
	p := m.ctx.Params

	freq, txConf, toa, err := m.region.TxConfig(band.TxConfigParams{
		Channel:     ch,
		Datarate:    p.ChannelsDatarate,
		TxPower:     p.ChannelsTxPower,
		MaxEIRP:     p.MaxEIRP,
		AntennaGain: p.AntennaGain,
		PktLen:      len(m.txBuf),
	})
	if err != nil {
		return errors.Wrap(err, "tx config error")
	}

	m.txToa = toa
	m.mcpsConfirm.Datarate = p.ChannelsDatarate
	m.mcpsConfirm.TxPower = p.ChannelsTxPower
	m.mcpsConfirm.Channel = ch
	m.mcpsConfirm.TxTimeOnAir = toa
	m.mcpsConfirm.UpLinkCounter = m.txFCnt
	m.mlmeConfirm.TxTimeOnAir = toa

	if m.sched.IsBeaconModeActive() {
		m.sched.Halt()
	}

	m.radio.Standby()
	m.radio.SetChannel(freq)
	m.radio.SetTxConfig(txConf)
	if err := m.radio.Send(m.txBuf); err != nil {
		log.WithFields(m.logFields()).WithError(err).Error("mac: radio send error")
		return models.StatusBusy
	}

	m.state |= stateTxRunning
	if m.nodeAckRequested {
		m.state |= stateAckReq
	}
	if m.kind != txJoin {
		m.nbTransCounter++
	}

	mType := "unknown"
	if h, err := codec.ParseMHDR(m.txBuf); err == nil {
		mType = h.MType().String()
	}
	uplinkCounter(mType).Inc()

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"mtype":     mType,
		"frequency": freq,
		"dr":        p.ChannelsDatarate,
		"tx_power":  p.ChannelsTxPower,
		"fcnt":      m.txFCnt,
		"toa":       toa,
	}).Info("mac: uplink sent")

	return nil
}

func (m *MAC) handleTxDelayed() {
	m.state &^= stateTxDelayed

	if err := m.scheduleTx(true); err != nil {
		log.WithFields(m.logFields()).WithError(err).Warning("mac: delayed uplink error")
		m.mcpsConfirm.Status = models.EventInfoStatusTxDrPayloadSizeError
		if m.kind == txJoin {
			m.endJoin(models.EventInfoStatusTxDrPayloadSizeError)
			return
		}
		m.finishExchange()
	}
}

func (m *MAC) handleTxDone() {
	now := m.clock.Now()

	if m.state&stateTxConfig != 0 {
		m.endTxCw(models.EventInfoStatusOK)
		return
	}
	if m.state&stateTxRunning == 0 {
		return
	}

	m.txDoneAt = now
	if m.ctx.DeviceClass == models.ClassC && m.joined() {
		m.openRxC()
	} else {
		m.radio.Sleep()
	}

	m.rx1Timer.Start(m.rx1Delay)
	m.rx2Timer.Start(m.rx2Delay)
	m.rxWindowsClosed = false
	if m.nodeAckRequested {
		d := m.region.Defaults()
		m.retransmitTimer.Start(m.rx2Delay + d.AckTimeout + m.randomDuration(d.AckTimeoutRnd))
	}

	m.region.SetBandTxDone(m.channel, m.joined(), m.txToa, m.ctx.DutyCycleOn, now.Sub(m.ctx.InitializationTime), now)
	m.ctx.AggregatedTimeOff = aggregatedTimeOff(m.txToa, m.ctx.Params.AggregatedDCycle)
	m.ctx.LastAggrTx = now

	if !m.nodeAckRequested {
		m.mcpsConfirm.Status = models.EventInfoStatusOK
	}

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"toa":                 m.txToa,
		"aggregated_time_off": m.ctx.AggregatedTimeOff,
	}).Debug("mac: tx done")
}

func (m *MAC) handleTxTimeout() {
	if m.state&stateTxConfig != 0 {
		m.endTxCw(models.EventInfoStatusOK)
		return
	}
	if m.state&stateTxRunning == 0 {
		return
	}

	if m.ctx.DeviceClass == models.ClassC && m.joined() {
		m.openRxC()
	} else {
		m.radio.Sleep()
	}

	log.WithFields(m.logFields()).Error("mac: tx timeout")

	m.txTimedOut = true
	m.mcpsConfirm.Status = models.EventInfoStatusTxTimeout
	m.macDone = true
}

// handleRetransmit sends the next transmission of a confirmed uplink once
// the receive windows of the previous one are closed.
func (m *MAC) handleRetransmit() {
	if m.state&stateTxRunning == 0 || !m.nodeAckRequested {
		m.retransmitPending = false
		return
	}
	if !m.rxWindowsClosed {
		return
	}
	m.retransmitPending = false
	m.state |= stateAckRetry

	m.ackRetriesCounter++
	if m.ackRetriesCounter%2 == 1 {
		// step down the data-rate on every second retry
		p := &m.ctx.Params
		if min := m.region.Defaults().MinTxDatarate; p.ChannelsDatarate > min {
			p.ChannelsDatarate--
		}
	}

	rtc.Inc()
	log.WithFields(m.logFields()).WithFields(log.Fields{
		"retry": m.ackRetriesCounter,
		"dr":    m.ctx.Params.ChannelsDatarate,
	}).Info("mac: retransmitting confirmed uplink")

	if err := m.scheduleTx(true); err != nil {
		log.WithFields(m.logFields()).WithError(err).Warning("mac: retransmission error")
		m.mcpsConfirm.Status = models.EventInfoStatusTxDrPayloadSizeError
		m.finishExchange()
	}
}

// processDone handles the end of the receive windows of a transmission:
// the frame is repeated, retransmitted or the exchange is finished.
func (m *MAC) processDone() {
	if m.state&stateTxRunning == 0 {
		return
	}
	m.rxWindowsClosed = true

	if m.sched.IsBeaconModeActive() {
		m.sched.Resume()
	}

	if m.state&stateRxAbort != 0 {
		m.state &^= stateRxAbort
		m.retransmitTimer.Stop()
		m.finishExchange()
		return
	}

	if m.kind == txJoin {
		status := models.EventInfoStatusJoinFail
		if m.txTimedOut {
			status = models.EventInfoStatusTxTimeout
		}
		m.endJoin(status)
		return
	}

	if !m.nodeAckRequested {
		if m.downlinkReceived || m.txTimedOut || m.nbTransCounter >= m.ctx.Params.ChannelsNbTrans {
			m.finishExchange()
			return
		}

		rtc.Inc()
		if err := m.scheduleTx(true); err != nil {
			log.WithFields(m.logFields()).WithError(err).Warning("mac: repetition error")
			m.finishExchange()
		}
		return
	}

	if m.mcpsConfirm.AckReceived || m.txTimedOut || m.ackRetriesCounter >= m.ackRetries {
		if !m.mcpsConfirm.AckReceived && !m.crypto.Context().LrWanVersion.Is11() {
			m.restoreDefaultChannels()
		}
		m.retransmitTimer.Stop()
		m.finishExchange()
	}

	// else the retransmit timer triggers the next transmission
}

// finishExchange ends the current uplink exchange.
func (m *MAC) finishExchange() {
	if !m.downlinkReceived && m.joined() && m.ctx.AdrAckCounter < math.MaxUint32 {
		m.ctx.AdrAckCounter++
	}

	if m.nodeAckRequested {
		m.mcpsConfirm.NbTrans = m.ackRetriesCounter
		if m.mcpsConfirm.AckReceived {
			exchangeCounter("true").Inc()
		} else {
			exchangeCounter("false").Inc()
		}
	} else {
		m.mcpsConfirm.NbTrans = m.nbTransCounter
	}

	pending := models.EventInfoStatusRx2Timeout
	switch {
	case m.txTimedOut:
		pending = models.EventInfoStatusTxTimeout
	case m.downlinkReceived:
		pending = models.EventInfoStatusError
	}
	m.queue.SetPendingStatus(pending)

	m.nbTransCounter = 0
	m.nodeAckRequested = false
	m.retransmitPending = false
	m.txTimedOut = false
	m.state &^= stateTxRunning | stateTxDelayed | stateAckReq | stateAckRetry

	m.countRejoinUplink()

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"status":          m.mcpsConfirm.Status,
		"ack_received":    m.mcpsConfirm.AckReceived,
		"nb_trans":        m.mcpsConfirm.NbTrans,
		"adr_ack_counter": m.ctx.AdrAckCounter,
	}).Info("mac: uplink exchange finished")
}
