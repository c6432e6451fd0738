package classb

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/gps"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
	"github.com/brocaar/lorawan"
)

// ErrNotReady is returned when switching to class B before the beacon is
// locked and the ping-slot is assigned.
var ErrNotReady = errors.New("classb: beacon not locked or ping-slot not assigned")

// BeaconState defines the state of the beacon state-machine.
type BeaconState int

// Beacon states.
const (
	BeaconStateAcquisition BeaconState = iota
	BeaconStateAcquisitionByTime
	BeaconStateTimeout
	BeaconStateBeaconMissed
	BeaconStateReacquisition
	BeaconStateLocked
	BeaconStateIdle
	BeaconStateGuard
	BeaconStateRx
	BeaconStateLost
	BeaconStateSwitchClass
	BeaconStateHalt
)

var beaconStateNames = map[BeaconState]string{
	BeaconStateAcquisition:       "ACQUISITION",
	BeaconStateAcquisitionByTime: "ACQUISITION_BY_TIME",
	BeaconStateTimeout:           "TIMEOUT",
	BeaconStateBeaconMissed:      "BEACON_MISSED",
	BeaconStateReacquisition:     "REACQUISITION",
	BeaconStateLocked:            "LOCKED",
	BeaconStateIdle:              "IDLE",
	BeaconStateGuard:             "GUARD",
	BeaconStateRx:                "RX",
	BeaconStateLost:              "LOST",
	BeaconStateSwitchClass:       "SWITCH_CLASS",
	BeaconStateHalt:              "HALT",
}

func (s BeaconState) String() string {
	if n, ok := beaconStateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// SlotState defines the state of the ping-slot and multicast-slot
// state-machines.
type SlotState int

// Slot states.
const (
	SlotStateCalcPingOffset SlotState = iota
	SlotStateSetTimer
	SlotStateIdle
	SlotStateRx
)

func (s SlotState) String() string {
	switch s {
	case SlotStateCalcPingOffset:
		return "CALC_PING_OFFSET"
	case SlotStateSetTimer:
		return "SET_TIMER"
	case SlotStateIdle:
		return "IDLE"
	case SlotStateRx:
		return "RX"
	}
	return "UNKNOWN"
}

// Host defines the MAC layer functions used by the scheduler. The methods
// are only called from Process and the other Scheduler methods.
type Host interface {
	// DevAddr returns the unicast device address.
	DevAddr() lorawan.DevAddr

	// MulticastChannels returns the multicast channels.
	MulticastChannels() []models.MulticastChannelParams

	// RxBeacon opens the beacon receive window. When continuous is set, the
	// receiver stays open until the next state transition.
	RxBeacon(freq uint32, dr uint8, symbolTimeout uint16, continuous bool)

	// RxSlot opens a ping-slot or multicast-slot receive window. A zero
	// symbol timeout means the window parameters of the data-rate are used.
	RxSlot(slot models.RxSlot, freq uint32, dr uint8, symbolTimeout uint16)

	// RadioSleep puts the radio in sleep mode.
	RadioSleep()

	// BeaconAcquisitionConfirm reports the outcome of the pending beacon
	// acquisition request.
	BeaconAcquisitionConfirm(status models.EventInfoStatus)

	// BeaconIndication reports a locked or lost beacon.
	BeaconIndication(status models.EventInfoStatus, info models.BeaconInfo)

	// SwitchClassA reports that class B operation has been given up.
	SwitchClassA()

	// Wakeup requests a call to Process.
	Wakeup()
}

// Context holds the persistable class B state.
type Context struct {
	PingSlotPeriodicity uint8
	PingSlotAssigned    bool
	PingSlotCustomFreq  bool
	PingSlotFrequency   uint32
	PingSlotDatarate    uint8
	BeaconCustomFreq    bool
	BeaconFrequency     uint32
}

// Config holds the scheduler configuration.
type Config struct {
	Clock     timer.Clock
	GPS       *gps.Clock
	Region    band.Region
	Encrypter Encrypter
	Host      Host
	Params    Params
}

const (
	eventBeacon uint32 = 1 << iota
	eventPingSlot
	eventMulticastSlot
)

// Scheduler implements the beacon tracking and the scheduling of the
// ping-slots and multicast-slots.
type Scheduler struct {
	clock  timer.Clock
	gps    *gps.Clock
	region band.Region
	enc    Encrypter
	host   Host
	params Params
	ctx    Context

	events uint32

	beaconTimer    timer.Timer
	pingSlotTimer  timer.Timer
	mcSlotTimer    timer.Timer
	beaconState    BeaconState
	pingSlotState  SlotState
	mcSlotState    SlotState
	beaconAcquired bool
	beaconMode     bool
	acqPending     bool
	resume         bool

	beaconTime       time.Duration // since GPS epoch
	lastBeaconRx     time.Time
	nextBeaconRx     time.Time
	listenTime       time.Duration
	beaconSymbolTO   uint16
	pingSlotSymbolTO uint16
	beaconInfo       models.BeaconInfo
	pingOffset       int
	mcPingOffset     [models.MaxMulticastChannels]int
	nextMcChannel    int
}

// New returns a new Scheduler.
func New(c Config) *Scheduler {
	s := Scheduler{
		clock:            c.Clock,
		gps:              c.GPS,
		region:           c.Region,
		enc:              c.Encrypter,
		host:             c.Host,
		params:           c.Params,
		beaconState:      BeaconStateAcquisition,
		pingSlotState:    SlotStateSetTimer,
		mcSlotState:      SlotStateSetTimer,
		beaconSymbolTO:   c.Params.BeaconSymbolToDefault,
		pingSlotSymbolTO: c.Params.BeaconSymbolToDefault,
		nextMcChannel:    -1,
	}
	s.ctx.PingSlotDatarate = c.Region.Defaults().PingSlotDatarate

	s.beaconTimer = c.Clock.NewTimer(func() { s.signal(eventBeacon) })
	s.pingSlotTimer = c.Clock.NewTimer(func() { s.signal(eventPingSlot) })
	s.mcSlotTimer = c.Clock.NewTimer(func() { s.signal(eventMulticastSlot) })

	return &s
}

func (s *Scheduler) signal(ev uint32) {
	for {
		old := atomic.LoadUint32(&s.events)
		if atomic.CompareAndSwapUint32(&s.events, old, old|ev) {
			break
		}
	}
	s.host.Wakeup()
}

// Process handles the expired timers.
func (s *Scheduler) Process() {
	ev := atomic.SwapUint32(&s.events, 0)

	if ev&eventBeacon != 0 {
		s.beaconEvent()
	}
	// multicast slots have priority over ping-slots
	if ev&eventMulticastSlot != 0 {
		s.mcSlotEvent()
	}
	if ev&eventPingSlot != 0 {
		s.pingSlotEvent()
	}
}

// Params returns the class B parameters.
func (s *Scheduler) Params() Params {
	return s.params
}

// SetParams sets the class B parameters.
func (s *Scheduler) SetParams(p Params) {
	s.params = p
}

// Context returns the persistable class B state.
func (s *Scheduler) Context() Context {
	return s.ctx
}

// SetContext restores the persistable class B state.
func (s *Scheduler) SetContext(c Context) {
	s.ctx = c
}

// BeaconState returns the current beacon state.
func (s *Scheduler) BeaconState() BeaconState {
	return s.beaconState
}

// PingSlotState returns the current ping-slot state.
func (s *Scheduler) PingSlotState() SlotState {
	return s.pingSlotState
}

// MulticastSlotState returns the current multicast-slot state.
func (s *Scheduler) MulticastSlotState() SlotState {
	return s.mcSlotState
}

// BeaconSymbolTimeout returns the current beacon symbol timeout.
func (s *Scheduler) BeaconSymbolTimeout() uint16 {
	return s.beaconSymbolTO
}

// NextBeaconRx returns the local time of the next expected beacon.
func (s *Scheduler) NextBeaconRx() time.Time {
	return s.nextBeaconRx
}

// IsBeaconExpected returns true when a received frame must be handled as
// beacon.
func (s *Scheduler) IsBeaconExpected() bool {
	return s.acqPending || s.beaconState == BeaconStateRx
}

// IsPingExpected returns true when the ping-slot receiver is open.
func (s *Scheduler) IsPingExpected() bool {
	return s.pingSlotState == SlotStateRx
}

// IsMulticastExpected returns true when the multicast-slot receiver is open.
func (s *Scheduler) IsMulticastExpected() bool {
	return s.mcSlotState == SlotStateRx
}

// IsAcquisitionPending returns true while a beacon acquisition is running.
func (s *Scheduler) IsAcquisitionPending() bool {
	return s.acqPending
}

// IsBeaconModeActive returns true once a beacon has been received.
func (s *Scheduler) IsBeaconModeActive() bool {
	return s.beaconMode
}

// StartAcquisition starts the beacon acquisition. When the GPS time is
// known, the receiver is only opened around the expected beacon.
func (s *Scheduler) StartAcquisition() {
	s.beaconTimer.Stop()
	s.acqPending = false

	if s.gps.Synced() {
		s.setBeaconState(BeaconStateAcquisitionByTime)
	} else {
		s.setBeaconState(BeaconStateAcquisition)
	}
	s.beaconEvent()
}

// SetPingSlotInfo sets the periodicity requested by PingSlotInfoReq.
func (s *Scheduler) SetPingSlotInfo(periodicity uint8) {
	s.ctx.PingSlotPeriodicity = periodicity & 0x07
}

// PingSlotInfoAns marks the ping-slot as assigned.
func (s *Scheduler) PingSlotInfoAns() {
	s.ctx.PingSlotAssigned = true
}

// PingSlotChannel applies the PingSlotChannelReq. A zero frequency restores
// the default ping-slot channel.
func (s *Scheduler) PingSlotChannel(freq uint32, dr uint8) {
	if freq == 0 {
		s.ctx.PingSlotCustomFreq = false
		s.ctx.PingSlotDatarate = s.region.Defaults().PingSlotDatarate
		return
	}
	s.ctx.PingSlotCustomFreq = true
	s.ctx.PingSlotFrequency = freq
	s.ctx.PingSlotDatarate = dr
}

// BeaconFreq applies the BeaconFreqReq. A zero frequency restores the
// default beacon channel.
func (s *Scheduler) BeaconFreq(freq uint32) {
	if freq == 0 {
		s.ctx.BeaconCustomFreq = false
		return
	}
	s.ctx.BeaconCustomFreq = true
	s.ctx.BeaconFrequency = freq
}

// BeaconTimingAns sets the time of the next beacon, received in the frame
// at rxAt.
func (s *Scheduler) BeaconTimingAns(delay time.Duration, rxAt time.Time) {
	s.nextBeaconRx = rxAt.Add(delay)
}

// SwitchClass validates the switch to the given class. Switching to class
// A stops the beacon tracking.
func (s *Scheduler) SwitchClass(class models.DeviceClass) error {
	switch class {
	case models.ClassB:
		if s.beaconMode && s.ctx.PingSlotAssigned {
			return nil
		}
		return ErrNotReady
	case models.ClassA:
		s.beaconTimer.Stop()
		s.pingSlotTimer.Stop()
		s.mcSlotTimer.Stop()
		s.beaconMode = false
		s.acqPending = false
		s.setBeaconState(BeaconStateAcquisition)
		return nil
	}
	return errors.New("classb: invalid class")
}

// Halt stops the beacon and slot state-machines during a class A
// exchange.
func (s *Scheduler) Halt() {
	if s.beaconState == BeaconStateTimeout || s.beaconState == BeaconStateSwitchClass {
		s.beaconEvent()
	}

	s.setBeaconState(BeaconStateHalt)
	s.beaconTimer.Stop()
	s.pingSlotTimer.Stop()
	s.mcSlotTimer.Stop()
}

// Resume restarts the state-machines halted by Halt.
func (s *Scheduler) Resume() {
	if s.beaconState != BeaconStateHalt {
		return
	}

	s.resume = true
	if s.beaconAcquired {
		s.setBeaconState(BeaconStateLocked)
	} else {
		s.setBeaconState(BeaconStateReacquisition)
	}
	s.beaconEvent()
}

// UplinkCollision returns the time the uplink must be delayed in order not
// to collide with the next beacon.
func (s *Scheduler) UplinkCollision(rxDelays, toa time.Duration) time.Duration {
	if !s.beaconMode {
		return 0
	}
	return UplinkCollision(s.clock.Now(), s.nextBeaconRx, s.params, rxDelays, toa)
}

// RxBeacon handles a frame received while a beacon is expected. It returns
// true when the frame has been consumed as beacon.
func (s *Scheduler) RxBeacon(b []byte, rssi int16, snr int8) bool {
	if !s.IsBeaconExpected() {
		return false
	}

	bp := s.region.BeaconParams()
	info, err := ParseBeacon(b, bp)
	if err == nil {
		now := s.clock.Now()

		info.Frequency = s.beaconFrequency()
		info.Datarate = bp.Datarate
		info.RSSI = rssi
		info.SNR = snr
		info.ReceivedAt = now

		s.beaconInfo = info
		s.beaconTime = info.Time
		s.lastBeaconRx = now.Add(-s.beaconTimeOnAir())
		s.gps.Set(info.Time, s.lastBeaconRx)
		s.beaconAcquired = true
		s.beaconMode = true
		s.beaconSymbolTO = s.params.BeaconSymbolToDefault

		log.WithFields(log.Fields{
			"beacon_time": info.Time,
			"rssi":        rssi,
			"snr":         snr,
		}).Info("classb: beacon received")

		s.setBeaconState(BeaconStateLocked)
		s.beaconEvent()
	} else {
		log.WithError(err).Warning("classb: invalid beacon")
	}

	if s.beaconState == BeaconStateRx {
		s.setBeaconState(BeaconStateTimeout)
		s.beaconEvent()
	}

	return true
}

// RxBeaconTimeout handles the timeout of the beacon receive window.
func (s *Scheduler) RxBeaconTimeout() {
	if s.beaconState == BeaconStateRx {
		s.setBeaconState(BeaconStateTimeout)
		s.beaconEvent()
	}
}

// SlotDone handles the completion (reception or timeout) of a ping-slot or
// multicast-slot window and schedules the next slot.
func (s *Scheduler) SlotDone(slot models.RxSlot) {
	switch slot {
	case models.RxSlotClassBPingSlot:
		s.pingSlotState = SlotStateSetTimer
		s.pingSlotEvent()
	case models.RxSlotClassBMulticastSlot:
		s.mcSlotState = SlotStateSetTimer
		s.mcSlotEvent()
	}
}

func (s *Scheduler) setBeaconState(st BeaconState) {
	if s.beaconState != st {
		log.WithFields(log.Fields{
			"from": s.beaconState,
			"to":   st,
		}).Debug("classb: beacon state changed")
	}
	s.beaconState = st
	beaconStateCounter(st).Inc()
}

func (s *Scheduler) beaconFrequency() uint32 {
	if s.ctx.BeaconCustomFreq {
		return s.ctx.BeaconFrequency
	}
	return s.region.BeaconParams().Frequency
}

func (s *Scheduler) beaconTimeOnAir() time.Duration {
	bp := s.region.BeaconParams()
	dr, err := s.region.DataRate(bp.Datarate)
	if err != nil {
		return 0
	}

	return radio.TimeOnAir(radio.TxConfig{
		Modulation:   radio.ModemLoRa,
		Bandwidth:    dr.Bandwidth,
		SpreadFactor: dr.SpreadFactor,
		CodeRate:     1,
		PreambleLen:  bp.Preamble,
		FixLen:       true,
	}, bp.Size)
}

// nextBeaconEvent computes the time of the next beacon from the last
// received beacon, minus the given window enlargement, and selects the
// idle or guard state.
func (s *Scheduler) nextBeaconEvent(now time.Time, enlargement time.Duration) time.Duration {
	d := s.params.BeaconInterval - (now.Sub(s.lastBeaconRx) % s.params.BeaconInterval)
	d -= enlargement
	s.nextBeaconRx = now.Add(d)

	if now.Add(s.params.BeaconGuard).Before(s.nextBeaconRx) {
		s.setBeaconState(BeaconStateIdle)
		return d - s.params.BeaconGuard
	}
	s.setBeaconState(BeaconStateGuard)
	return d
}

func (s *Scheduler) restartSlots() {
	if !s.ctx.PingSlotAssigned {
		return
	}
	s.pingSlotTimer.Stop()
	s.mcSlotTimer.Stop()
	s.pingSlotState = SlotStateCalcPingOffset
	s.mcSlotState = SlotStateCalcPingOffset
	s.pingSlotEvent()
	s.mcSlotEvent()
}

func (s *Scheduler) beaconEvent() {
	now := s.clock.Now()
	s.beaconTimer.Stop()

	for {
		next, again := s.beaconStep(now)
		if again {
			continue
		}
		if next > 0 {
			s.beaconTimer.Start(next)
		}
		return
	}
}

// beaconStep executes the current beacon state. It returns the time after
// which the next event must be handled, or true when the next state must be
// handled immediately.
func (s *Scheduler) beaconStep(now time.Time) (time.Duration, bool) {
	bp := s.region.BeaconParams()

	switch s.beaconState {
	case BeaconStateAcquisition:
		if s.acqPending {
			s.host.RadioSleep()
			s.setBeaconState(BeaconStateSwitchClass)
			return 0, true
		}

		s.beaconSymbolTO = s.params.BeaconSymbolToDefault
		s.pingSlotSymbolTO = s.params.BeaconSymbolToDefault
		s.acqPending = true

		s.host.RxBeacon(s.beaconFrequency(), bp.Datarate, s.beaconSymbolTO, true)
		return s.params.BeaconInterval, false

	case BeaconStateAcquisitionByTime:
		if s.acqPending {
			s.host.RadioSleep()
			s.setBeaconState(BeaconStateSwitchClass)
			return 0, true
		}

		s.beaconSymbolTO = s.params.BeaconSymbolToDefault
		s.pingSlotSymbolTO = s.params.BeaconSymbolToDefault
		s.acqPending = true

		gpsNow := s.gps.TimeSinceGPSEpoch(now)
		s.beaconTime = BeaconStart(gpsNow, s.params.BeaconInterval)
		s.nextBeaconRx = s.gps.LocalTime(s.beaconTime + s.params.BeaconInterval)
		d := s.nextBeaconRx.Sub(now)

		if d > s.params.BeaconGuard {
			s.setBeaconState(BeaconStateIdle)
			return d - s.params.BeaconGuard, false
		}
		s.setBeaconState(BeaconStateGuard)
		return d, false

	case BeaconStateTimeout:
		s.listenTime = now.Sub(s.nextBeaconRx)
		s.setBeaconState(BeaconStateBeaconMissed)
		return 0, true

	case BeaconStateBeaconMissed:
		s.beaconTime += s.params.BeaconInterval
		s.beaconSymbolTO = expand(s.beaconSymbolTO, s.params.BeaconSymbolToExpansionFactor, s.params.BeaconSymbolToExpansionMax)
		s.pingSlotSymbolTO = expand(s.pingSlotSymbolTO, s.params.PingSlotSymbolToExpansionFactor, s.params.PingSlotSymbolToExpansionMax)
		s.setBeaconState(BeaconStateReacquisition)
		return 0, true

	case BeaconStateReacquisition:
		if s.lastBeaconRx.IsZero() || now.Sub(s.lastBeaconRx) > s.params.MaxBeaconLessPeriod {
			s.setBeaconState(BeaconStateLost)
			return 0, true
		}

		enlargement := (s.listenTime * time.Duration(s.params.BeaconSymbolToExpansionFactor)) >> 1
		next := s.nextBeaconEvent(now, enlargement)
		s.restartSlots()
		s.beaconAcquired = false

		if !s.resume {
			s.host.BeaconIndication(models.EventInfoStatusBeaconLost, s.beaconInfo)
		}
		s.resume = false
		return next, false

	case BeaconStateLost:
		s.beaconAcquired = false
		s.setBeaconState(BeaconStateSwitchClass)
		return 0, true

	case BeaconStateLocked:
		next := s.nextBeaconEvent(now, 0)

		if s.acqPending {
			s.host.BeaconAcquisitionConfirm(models.EventInfoStatusOK)
		}
		s.acqPending = false
		s.restartSlots()

		if !s.resume {
			s.host.BeaconIndication(models.EventInfoStatusBeaconLocked, s.beaconInfo)
		}
		s.resume = false
		return next, false

	case BeaconStateIdle:
		at := s.nextBeaconRx.Add(-radioWakeUpTime)
		if at.After(now) {
			s.setBeaconState(BeaconStateGuard)
			return at.Sub(now), false
		}
		s.setBeaconState(BeaconStateReacquisition)
		return 0, true

	case BeaconStateGuard:
		s.setBeaconState(BeaconStateRx)
		s.host.RxBeacon(s.beaconFrequency(), bp.Datarate, s.beaconSymbolTO, false)
		return 0, false

	case BeaconStateSwitchClass:
		if s.acqPending {
			s.host.BeaconAcquisitionConfirm(models.EventInfoStatusBeaconNotFound)
		} else {
			s.ctx.PingSlotAssigned = false
			s.host.SwitchClassA()
		}
		s.setBeaconState(BeaconStateAcquisition)
		s.beaconMode = false
		s.acqPending = false
		s.pingSlotTimer.Stop()
		s.mcSlotTimer.Stop()
		return 0, false

	case BeaconStateHalt, BeaconStateRx:
		return 0, false
	}

	s.setBeaconState(BeaconStateAcquisition)
	return 0, false
}

func expand(v, factor, max uint16) uint16 {
	out := uint32(v) * uint32(factor)
	if out > uint32(max) {
		return max
	}
	return uint16(out)
}

func (s *Scheduler) pingSlotEvent() {
	s.pingSlotTimer.Stop()
	pingPeriod := PingPeriod(s.ctx.PingSlotPeriodicity)

	switch s.pingSlotState {
	case SlotStateCalcPingOffset:
		offset, err := PingOffset(s.enc, s.beaconTime, s.host.DevAddr(), pingPeriod)
		if err != nil {
			log.WithError(err).Error("classb: compute ping offset error")
			return
		}
		s.pingOffset = offset
		s.pingSlotState = SlotStateSetTimer
		fallthrough

	case SlotStateSetTimer:
		d, ok := SlotTime(s.clock.Now(), s.lastBeaconRx, s.nextBeaconRx, s.params, s.pingOffset, pingPeriod, PingNb(s.ctx.PingSlotPeriodicity))
		if ok {
			s.pingSlotState = SlotStateIdle
			s.pingSlotTimer.Start(d)
		}

	case SlotStateIdle:
		if s.mcSlotState == SlotStateRx {
			// multicast slots have priority
			s.pingSlotState = SlotStateSetTimer
			s.pingSlotTimer.Start(s.params.PingSlotWindow)
			return
		}

		freq := s.ctx.PingSlotFrequency
		if !s.ctx.PingSlotCustomFreq {
			freq = s.region.PingSlotFrequency(s.host.DevAddr(), s.beaconTime)
		}

		var symbolTO uint16
		if !s.beaconAcquired {
			symbolTO = s.pingSlotSymbolTO
		}

		s.pingSlotState = SlotStateRx
		slotOpenCounter(models.RxSlotClassBPingSlot.String()).Inc()
		s.host.RxSlot(models.RxSlotClassBPingSlot, freq, s.ctx.PingSlotDatarate, symbolTO)

	default:
		s.pingSlotState = SlotStateSetTimer
	}
}

func (s *Scheduler) mcSlotEvent() {
	s.mcSlotTimer.Stop()
	channels := s.host.MulticastChannels()

	switch s.mcSlotState {
	case SlotStateCalcPingOffset:
		for i, mc := range channels {
			if !isClassBMulticast(mc) || i >= len(s.mcPingOffset) {
				continue
			}
			offset, err := PingOffset(s.enc, s.beaconTime, mc.Address, PingPeriod(mc.Periodicity))
			if err != nil {
				log.WithError(err).Error("classb: compute multicast ping offset error")
				return
			}
			s.mcPingOffset[i] = offset
		}
		s.mcSlotState = SlotStateSetTimer
		fallthrough

	case SlotStateSetTimer:
		now := s.clock.Now()
		s.nextMcChannel = -1

		var next time.Duration
		for i, mc := range channels {
			if !isClassBMulticast(mc) || i >= len(s.mcPingOffset) {
				continue
			}
			d, ok := SlotTime(now, s.lastBeaconRx, s.nextBeaconRx, s.params, s.mcPingOffset[i], PingPeriod(mc.Periodicity), PingNb(mc.Periodicity))
			if !ok {
				continue
			}
			if s.nextMcChannel == -1 || d < next {
				next = d
				s.nextMcChannel = i
			}
		}

		if s.nextMcChannel != -1 {
			s.mcSlotState = SlotStateIdle
			s.mcSlotTimer.Start(next)
		}

	case SlotStateIdle:
		if s.nextMcChannel < 0 || s.nextMcChannel >= len(channels) {
			s.mcSlotState = SlotStateSetTimer
			s.mcSlotEvent()
			return
		}
		mc := channels[s.nextMcChannel]

		freq := mc.Frequency
		if freq == 0 {
			freq = s.region.PingSlotFrequency(mc.Address, s.beaconTime)
		}

		var symbolTO uint16
		if !s.beaconAcquired {
			symbolTO = s.pingSlotSymbolTO
		}

		s.mcSlotState = SlotStateRx
		slotOpenCounter(models.RxSlotClassBMulticastSlot.String()).Inc()
		s.host.RxSlot(models.RxSlotClassBMulticastSlot, freq, mc.Datarate, symbolTO)

	default:
		s.mcSlotState = SlotStateSetTimer
	}
}

// NextMulticastChannel returns the index of the multicast channel of the
// open (or next) multicast-slot, or -1.
func (s *Scheduler) NextMulticastChannel() int {
	return s.nextMcChannel
}

func isClassBMulticast(mc models.MulticastChannelParams) bool {
	return mc.IsEnabled && mc.Class == models.ClassB
}
