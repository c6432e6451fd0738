package mac

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/lorawan"
)

// device gives the mac-command handlers and the class B scheduler access to
// the MAC state. Its methods are only called from within Process or a
// request.
type device struct {
	m *MAC
}

func (d *device) Region() band.Region {
	return d.m.region
}

func (d *device) Params() *maccommand.Params {
	return &d.m.ctx.Params
}

func (d *device) Buffer() *maccommand.Buffer {
	return &d.m.buffer
}

func (d *device) AdrEnabled() bool {
	return d.m.ctx.AdrEnabled
}

func (d *device) Battery() uint8 {
	if d.m.battery == nil {
		return maccommand.BatteryLevelUnknown
	}
	return d.m.battery()
}

func (d *device) SNR() int8 {
	return d.m.cmdSNR
}

func (d *device) LinkCheckAns(margin, gwCnt uint8) {
	d.m.mlmeConfirm.DemodMargin = margin
	d.m.mlmeConfirm.NbGateways = gwCnt
	d.m.queue.SetStatus(models.EventInfoStatusOK, models.MlmeLinkCheck)
}

// DeviceTimeAns synchronizes the GPS clock. The network time refers to the
// end of the uplink transmission.
func (d *device) DeviceTimeAns(timeSinceGPSEpoch time.Duration) {
	d.m.gps.Set(timeSinceGPSEpoch, d.m.txDoneAt)
	d.m.mcpsInd.DeviceTimeAnsReceived = true
	d.m.queue.SetStatus(models.EventInfoStatusOK, models.MlmeDeviceTime)
}

func (d *device) ForceRejoin(p maccommand.ForceRejoinParams) {
	if !d.m.crypto.Context().LrWanVersion.Is11() {
		log.WithFields(d.m.logFields()).Warning("mac: force_rejoin_req ignored by lorawan 1.0 device")
		return
	}
	d.m.startForceRejoin(p)
}

func (d *device) RejoinParamSetup(maxTimeN, maxCountN uint8) bool {
	d.m.ctx.RejoinType0Enabled = true
	d.m.ctx.RejoinMaxTimeN = maxTimeN
	d.m.ctx.RejoinMaxCountN = maxCountN
	d.m.ctx.RejoinUplinks = 0
	d.m.startRejoin0Timer()
	return true
}

func (d *device) ResetConf(servMinor uint8) {
	d.m.ctx.ResetIndPending = false
}

func (d *device) RekeyConf(servMinor uint8) {
	d.m.ctx.RekeyIndPending = false
	d.m.ctx.RekeyIndUplinks = 0
	d.m.crypto.ResetRJcount0()
}

func (d *device) DeviceModeConf(class lorawan.DeviceModeClass) {
	c := models.ClassA
	if class == lorawan.DeviceModeClassC {
		c = models.ClassC
	}
	if err := d.m.switchClass(c); err != nil {
		log.WithFields(d.m.logFields()).WithError(err).Warning("mac: device_mode_conf class switch error")
	}
}

func (d *device) PingSlotInfoAns() {
	d.m.sched.PingSlotInfoAns()
	d.m.queue.SetStatus(models.EventInfoStatusOK, models.MlmePingSlotInfo)
}

func (d *device) PingSlotChannel(freq uint32, dr uint8) {
	d.m.sched.PingSlotChannel(freq, dr)
}

func (d *device) BeaconTimingAns(delay time.Duration, channel uint8) {
	d.m.sched.BeaconTimingAns(delay, d.m.rxDoneAt)
	d.m.mlmeConfirm.BeaconTimingDelay = delay
	d.m.mlmeConfirm.BeaconTimingChannel = channel
	d.m.queue.SetStatus(models.EventInfoStatusOK, models.MlmeBeaconTiming)
}

func (d *device) BeaconFrequency(freq uint32) {
	d.m.sched.BeaconFreq(freq)
}

// class B scheduler host

func (d *device) DevAddr() lorawan.DevAddr {
	return d.m.ctx.DevAddr
}

func (d *device) MulticastChannels() []models.MulticastChannelParams {
	return d.m.ctx.MulticastChannels[:]
}

func (d *device) RxBeacon(freq uint32, dr uint8, symbolTimeout uint16, continuous bool) {
	d.m.rxWindowSetup(models.RxSlotNone, band.RxConfigParams{
		Frequency:     freq,
		Datarate:      dr,
		SymbolTimeout: symbolTimeout,
		RxContinuous:  continuous,
		Beacon:        true,
	})
	d.m.rxBeacon = true
}

func (d *device) RxSlot(slot models.RxSlot, freq uint32, dr uint8, symbolTimeout uint16) {
	if symbolTimeout == 0 {
		p := d.m.ctx.Params
		rx, err := d.m.region.ComputeRxWindowParameters(dr, p.MinRxSymbols, p.SystemMaxRxError)
		if err != nil {
			log.WithError(err).WithField("rx_slot", slot).Error("mac: compute slot window error")
			d.m.sched.SlotDone(slot)
			return
		}
		symbolTimeout = rx.SymbolTimeout
	}

	d.m.rxWindowSetup(slot, band.RxConfigParams{
		Frequency:     freq,
		Datarate:      dr,
		SymbolTimeout: symbolTimeout,
	})
}

func (d *device) RadioSleep() {
	d.m.rxBeacon = false
	d.m.sleepOrRxC()
}

func (d *device) BeaconAcquisitionConfirm(status models.EventInfoStatus) {
	d.m.queue.SetStatus(status, models.MlmeBeaconAcquisition)
}

func (d *device) BeaconIndication(status models.EventInfoStatus, info models.BeaconInfo) {
	t := models.MlmeBeacon
	if status == models.EventInfoStatusBeaconLost {
		t = models.MlmeBeaconLost
	}
	d.m.mlmeInds = append(d.m.mlmeInds, models.MlmeIndication{
		Type:       t,
		Status:     status,
		BeaconInfo: info,
	})
}

func (d *device) SwitchClassA() {
	log.WithFields(d.m.logFields()).Warning("mac: beacon lost, switching to class a")
	d.m.ctx.DeviceClass = models.ClassA
}

func (d *device) Wakeup() {
	if d.m.cb.Notify != nil {
		d.m.cb.Notify()
	}
}
