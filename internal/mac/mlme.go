package mac

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/codec"
	"github.com/brocaar/chirpstack-device-mac/internal/confirmqueue"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/lorawan"
)

// forceRejoinBase is the unit of the ForceRejoinReq retransmission period.
const forceRejoinBase = 32 * time.Second

// MlmeRequest starts a management request. The requests answered by the
// network are confirmed through the MlmeConfirm callback. The key
// derivation requests complete synchronously.
func (m *MAC) MlmeRequest(req models.MlmeReq) error {
	if m.IsBusy() {
		return models.StatusBusy
	}

	switch req.Type {
	case models.MlmeJoin:
		dr := req.JoinDatarate
		if dr == 0 {
			dr = m.region.AlternateDr(m.ctx.Params.ChannelsDatarate, m.ctx.JoinRequestTrials+1)
		}
		if !m.region.VerifyTxDatarate(dr, m.ctx.Params.UplinkDwellTime) {
			return models.StatusDatarateInvalid
		}
		return m.sendJoin(models.MlmeJoin, dr, false, req.AllowDelayedTx)

	case models.MlmeRejoin0, models.MlmeRejoin1, models.MlmeRejoin2:
		if !m.joined() {
			return models.StatusNoNetworkJoined
		}
		if !m.crypto.Context().LrWanVersion.Is11() {
			return models.StatusServiceUnknown
		}
		return m.sendJoin(req.Type, m.ctx.Params.ChannelsDatarate, false, req.AllowDelayedTx)

	case models.MlmeLinkCheck:
		return m.requestCommand(req.Type, false, func() error {
			return maccommand.RequestLinkCheck(&m.buffer)
		})

	case models.MlmeDeviceTime:
		return m.requestCommand(req.Type, false, func() error {
			return maccommand.RequestDeviceTime(&m.buffer)
		})

	case models.MlmePingSlotInfo:
		if req.PingSlotPeriodicity > 7 {
			return models.StatusParameterInvalid
		}
		return m.requestCommand(req.Type, false, func() error {
			if err := maccommand.RequestPingSlotInfo(&m.buffer, req.PingSlotPeriodicity); err != nil {
				return err
			}
			m.sched.SetPingSlotInfo(req.PingSlotPeriodicity)
			return nil
		})

	case models.MlmeBeaconTiming:
		return m.requestCommand(req.Type, false, func() error {
			return maccommand.RequestBeaconTiming(&m.buffer)
		})

	case models.MlmeBeaconAcquisition:
		if m.sched.IsAcquisitionPending() {
			return models.StatusBusy
		}
		if err := m.enqueue(req.Type, true); err != nil {
			return err
		}
		m.sched.StartAcquisition()
		return nil

	case models.MlmeTxCw:
		return m.startTxCw(req)

	case models.MlmeDeriveMcKEKey:
		if err := m.crypto.DeriveMcKEKey(); err != nil {
			log.WithError(err).Error("mac: derive mc_ke_key error")
			return models.StatusCryptoError
		}
		return nil

	case models.MlmeDeriveMcSessionKeyPair:
		if req.GroupID < models.MulticastChannel0 || req.GroupID > models.MulticastChannel3 {
			return models.StatusParameterInvalid
		}
		mc := m.ctx.MulticastChannels[req.GroupID]
		if !mc.IsEnabled {
			return models.StatusMcGroupUndefined
		}
		if err := m.crypto.DeriveMcSessionKeyPair(security.AddrID(req.GroupID), mc.Address); err != nil {
			log.WithError(err).Error("mac: derive multicast session keys error")
			return models.StatusCryptoError
		}
		return nil
	}

	return models.StatusServiceUnknown
}

func (m *MAC) enqueue(t models.MlmeType, restricted bool) error {
	if m.queue.IsFull() || m.queue.IsActive(t) {
		return models.StatusBusy
	}
	m.queue.Add(confirmqueue.Entry{
		Request:                     t,
		Status:                      models.EventInfoStatusError,
		RestrictCommonReadyToHandle: restricted,
	})
	return nil
}

// requestCommand queues a request answered by a mac-command which is sent
// with the next uplink.
func (m *MAC) requestCommand(t models.MlmeType, restricted bool, add func() error) error {
	if !m.joined() {
		return models.StatusNoNetworkJoined
	}
	if m.queue.IsFull() || m.queue.IsActive(t) {
		return models.StatusBusy
	}
	if err := add(); err != nil {
		log.WithError(err).WithField("mlme", t).Warning("mac: add mac-command error")
		return models.StatusMacCommandError
	}
	return m.enqueue(t, restricted)
}

// resetSession restores the defaults before a new join.
func (m *MAC) resetSession() {
	if m.ctx.DeviceClass == models.ClassB {
		if err := m.sched.SwitchClass(models.ClassA); err != nil {
			log.WithError(err).Warning("mac: stop class b error")
		}
	}

	m.ctx.DeviceClass = models.ClassA
	m.ctx.Activation = models.ActivationNone
	m.ctx.Params = m.ctx.DefaultParams
	m.ctx.AdrAckCounter = 0
	m.ctx.SrvAckRequested = false
	m.ctx.ResetIndPending = false
	m.ctx.RekeyIndPending = false
	m.ctx.RejoinType0Enabled = false
	m.ctx.RejoinUplinks = 0
	m.ctx.MulticastChannels = [models.MaxMulticastChannels]models.MulticastChannelParams{}
	m.region.InitDefaults()
	m.buffer.Reset()
	m.rejoin0Timer.Stop()
	m.rejoin0Due = false
}

// sendJoin sends a join-request or a rejoin-request. The internal requests
// (periodic and forced rejoins) are not confirmed to the upper layer.
func (m *MAC) sendJoin(t models.MlmeType, dr uint8, internal, allowDelayed bool) error {
	if m.IsBusy() {
		return models.StatusBusy
	}
	if !internal && (m.queue.IsFull() || m.queue.IsActive(t)) {
		return models.StatusBusy
	}

	se := m.crypto.SecureElement()
	jr := joinRequest{
		mlme:     t,
		internal: internal,
	}

	var b []byte
	var err error
	switch t {
	case models.MlmeJoin:
		m.resetSession()
		m.ctx.JoinRequestTrials++
		jr.reqType = security.JoinReq
		req := codec.JoinRequest{
			MHDR:    codec.NewMHDR(lorawan.JoinRequest, lorawan.LoRaWANR1),
			JoinEUI: se.GetJoinEUI(),
			DevEUI:  se.GetDevEUI(),
		}
		if err = m.crypto.PrepareJoinRequest(&req); err == nil {
			b, err = m.crypto.SecureJoinRequest(&req)
		}

	case models.MlmeRejoin0, models.MlmeRejoin2:
		rt := codec.RejoinReqType0
		jr.reqType = security.JoinReqRejoinType0
		if t == models.MlmeRejoin2 {
			rt = codec.RejoinReqType2
			jr.reqType = security.JoinReqRejoinType2
		}
		req := codec.RejoinType02{
			MHDR:       codec.NewMHDR(lorawan.RejoinRequest, lorawan.LoRaWANR1),
			RejoinType: rt,
			NetID:      m.ctx.NetID,
			DevEUI:     se.GetDevEUI(),
		}
		if err = m.crypto.PrepareRejoinType02(&req); err == nil {
			b, err = m.crypto.SecureRejoinType02(&req)
		}

	case models.MlmeRejoin1:
		jr.reqType = security.JoinReqRejoinType1
		req := codec.RejoinType1{
			MHDR:    codec.NewMHDR(lorawan.RejoinRequest, lorawan.LoRaWANR1),
			JoinEUI: se.GetJoinEUI(),
			DevEUI:  se.GetDevEUI(),
		}
		if err = m.crypto.PrepareRejoinType1(&req); err == nil {
			b, err = m.crypto.SecureRejoinType1(&req)
		}

	default:
		return models.StatusServiceUnknown
	}
	if err != nil {
		log.WithError(err).WithField("mlme", t).Error("mac: secure join-request error")
		return models.StatusCryptoError
	}

	m.newExchange()
	m.kind = txJoin
	m.txBuf = b
	m.txCmdsSize = 0
	m.ctx.Params.ChannelsDatarate = dr
	m.joinReq = &jr
	m.nodeAckRequested = false
	m.downlinkReceived = false
	m.txTimedOut = false
	m.retransmitPending = false
	m.mlmeConfirm = models.MlmeConfirm{
		NbRetries: uint8(m.ctx.JoinRequestTrials),
	}

	if err := m.scheduleTx(allowDelayed); err != nil {
		m.joinReq = nil
		return err
	}

	if !internal {
		m.queue.Add(confirmqueue.Entry{
			Request:                     t,
			Status:                      models.EventInfoStatusJoinFail,
			RestrictCommonReadyToHandle: true,
		})
	}

	return nil
}

// endJoin ends the join or rejoin exchange.
func (m *MAC) endJoin(status models.EventInfoStatus) {
	jr := m.joinReq
	m.joinReq = nil
	m.txTimedOut = false
	m.state &^= stateTxRunning | stateTxDelayed

	if jr == nil {
		return
	}

	if jr.accepted {
		m.forceRejoin = nil
		m.forceRejoinTimer.Stop()
		m.startRejoin0Timer()
		m.sleepOrRxC()
	} else if !jr.internal {
		m.queue.SetStatus(status, jr.mlme)
	}

	log.WithFields(m.logFields()).WithFields(log.Fields{
		"mlme":     jr.mlme,
		"accepted": jr.accepted,
		"status":   status,
	}).Info("mac: join exchange finished")
}

func (m *MAC) startTxCw(req models.MlmeReq) error {
	if !m.region.VerifyFrequency(req.TxCwFrequency) || !m.radio.CheckFrequency(req.TxCwFrequency) {
		return models.StatusFrequencyInvalid
	}
	if err := m.enqueue(models.MlmeTxCw, false); err != nil {
		return err
	}

	m.state |= stateTxConfig | stateTxRunning
	m.radio.SetTxContinuousWave(req.TxCwFrequency, req.TxCwPower, req.TxCwTimeout)

	log.WithFields(log.Fields{
		"frequency": req.TxCwFrequency,
		"power":     req.TxCwPower,
		"timeout":   req.TxCwTimeout,
	}).Info("mac: continuous wave started")

	return nil
}

func (m *MAC) endTxCw(status models.EventInfoStatus) {
	m.state &^= stateTxConfig | stateTxRunning
	m.queue.SetStatus(status, models.MlmeTxCw)
	m.sleepOrRxC()
}

// startForceRejoin handles a ForceRejoinReq. The first rejoin-request is
// sent once the current exchange has ended.
func (m *MAC) startForceRejoin(p maccommand.ForceRejoinParams) {
	m.forceRejoin = &forceRejoin{params: p}
	m.forceRejoinTimer.Start(0)
}

func (m *MAC) handleForceRejoin() {
	fr := m.forceRejoin
	if fr == nil {
		return
	}
	if m.IsBusy() {
		m.forceRejoinTimer.Start(time.Second)
		return
	}

	t := models.MlmeRejoin0
	if fr.params.RejoinType == 2 {
		t = models.MlmeRejoin2
	}

	fr.sent++
	if err := m.sendJoin(t, fr.params.Datarate, true, true); err != nil {
		log.WithError(err).Warning("mac: send forced rejoin-request error")
	}

	if fr.sent > fr.params.MaxRetries {
		m.forceRejoin = nil
		return
	}

	period := forceRejoinBase<<fr.params.Period + time.Duration(m.intn(int(forceRejoinBase/time.Millisecond)))*time.Millisecond
	m.forceRejoinTimer.Start(period)
}

// rejoinType0Active returns true when the periodic rejoin-request type 0 is
// active.
func (m *MAC) rejoinType0Active() bool {
	return m.ctx.RejoinType0Enabled && m.ctx.Activation == models.ActivationOTAA && m.crypto.Context().LrWanVersion.Is11()
}

func (m *MAC) startRejoin0Timer() {
	m.rejoin0Timer.Stop()
	if !m.rejoinType0Active() {
		return
	}
	m.rejoin0Timer.Start(time.Duration(uint64(1)<<(uint(m.ctx.RejoinMaxTimeN)+10)) * time.Second)
}

// countRejoinUplink counts the uplinks for the periodic rejoin-request,
// which is due every 2^(MaxCountN+4) uplinks.
func (m *MAC) countRejoinUplink() {
	if !m.rejoinType0Active() || m.kind == txJoin {
		return
	}

	m.ctx.RejoinUplinks++
	if m.ctx.RejoinUplinks >= uint32(1)<<(uint(m.ctx.RejoinMaxCountN)+4) {
		m.ctx.RejoinUplinks = 0
		m.rejoin0Due = true
	}
}
