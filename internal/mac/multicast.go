package mac

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
)

func validGroup(id models.AddrID) bool {
	return id >= models.MulticastChannel0 && id <= models.MulticastChannel3
}

// McChannelSetup enables the multicast channel given by p.GroupID. The keys
// of the group must be set (or derived with DeriveMcSessionKeyPair) before
// frames for the group can be decrypted. A zero FCountMax accepts every
// frame-counter from FCountMin on.
func (m *MAC) McChannelSetup(p models.MulticastChannelParams) error {
	if m.IsBusy() {
		return models.StatusBusy
	}
	if !validGroup(p.GroupID) || p.Class == models.ClassA {
		return models.StatusParameterInvalid
	}
	if p.FCountMax == 0 {
		p.FCountMax = math.MaxUint32
	}
	if p.FCountMin > p.FCountMax {
		return models.StatusParameterInvalid
	}

	id := security.AddrID(p.GroupID)
	if err := m.crypto.SetMulticastReference(id, p.Address); err != nil {
		return models.StatusParameterInvalid
	}
	if err := m.crypto.ResetMulticastFCnt(id); err != nil {
		return models.StatusParameterInvalid
	}

	p.IsEnabled = true
	m.ctx.MulticastChannels[p.GroupID] = p

	log.WithFields(log.Fields{
		"group_id": p.GroupID,
		"mc_addr":  p.Address,
		"class":    p.Class,
	}).Info("mac: multicast channel setup")

	return nil
}

// McChannelDelete disables the given multicast channel.
func (m *MAC) McChannelDelete(id models.AddrID) error {
	if m.IsBusy() {
		return models.StatusBusy
	}
	if !validGroup(id) {
		return models.StatusParameterInvalid
	}
	if !m.ctx.MulticastChannels[id].IsEnabled {
		return models.StatusMcGroupUndefined
	}

	m.ctx.MulticastChannels[id] = models.MulticastChannelParams{GroupID: id}

	log.WithField("group_id", id).Info("mac: multicast channel deleted")
	return nil
}

// McChannelSetupRxParams changes the receive parameters of an enabled
// multicast channel.
func (m *MAC) McChannelSetupRxParams(id models.AddrID, class models.DeviceClass, freq uint32, dr uint8, periodicity uint8) error {
	if m.IsBusy() {
		return models.StatusBusy
	}
	if !validGroup(id) || class == models.ClassA {
		return models.StatusParameterInvalid
	}

	mc := &m.ctx.MulticastChannels[id]
	if !mc.IsEnabled {
		return models.StatusMcGroupUndefined
	}

	var status error
	// class B uses the ping-slot channel hopping on a zero frequency
	if !(class == models.ClassB && freq == 0) && !m.region.VerifyFrequency(freq) {
		status = models.StatusFrequencyInvalid
	}
	if !m.region.VerifyRxDatarate(dr) {
		if status != nil {
			return models.StatusFreqAndDrInvalid
		}
		status = models.StatusDatarateInvalid
	}
	if status != nil {
		return status
	}
	if class == models.ClassB && periodicity > 7 {
		return models.StatusParameterInvalid
	}

	mc.Class = class
	mc.Frequency = freq
	mc.Datarate = dr
	mc.Periodicity = periodicity
	return nil
}
