package classb

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/gps"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
	"github.com/brocaar/lorawan"
)

type rxBeaconCall struct {
	Frequency     uint32
	Datarate      uint8
	SymbolTimeout uint16
	Continuous    bool
	At            time.Time
}

type rxSlotCall struct {
	Slot          models.RxSlot
	Frequency     uint32
	Datarate      uint8
	SymbolTimeout uint16
	At            time.Time
}

type fakeHost struct {
	clock          *timer.Manual
	devAddr        lorawan.DevAddr
	multicast      []models.MulticastChannelParams
	rxBeacon       []rxBeaconCall
	rxSlot         []rxSlotCall
	confirms       []models.EventInfoStatus
	indications    []models.EventInfoStatus
	switchedClassA bool
	sleep          int
}

func (h *fakeHost) DevAddr() lorawan.DevAddr {
	return h.devAddr
}

func (h *fakeHost) MulticastChannels() []models.MulticastChannelParams {
	return h.multicast
}

func (h *fakeHost) RxBeacon(freq uint32, dr uint8, symbolTimeout uint16, continuous bool) {
	h.rxBeacon = append(h.rxBeacon, rxBeaconCall{freq, dr, symbolTimeout, continuous, h.clock.Now()})
}

func (h *fakeHost) RxSlot(slot models.RxSlot, freq uint32, dr uint8, symbolTimeout uint16) {
	h.rxSlot = append(h.rxSlot, rxSlotCall{slot, freq, dr, symbolTimeout, h.clock.Now()})
}

func (h *fakeHost) RadioSleep() {
	h.sleep++
}

func (h *fakeHost) BeaconAcquisitionConfirm(status models.EventInfoStatus) {
	h.confirms = append(h.confirms, status)
}

func (h *fakeHost) BeaconIndication(status models.EventInfoStatus, info models.BeaconInfo) {
	h.indications = append(h.indications, status)
}

func (h *fakeHost) SwitchClassA() {
	h.switchedClassA = true
}

func (h *fakeHost) Wakeup() {}

// run advances the clock by d and processes every expired timer.
func run(clock *timer.Manual, s *Scheduler, d time.Duration) {
	for {
		next, ok := clock.NextDeadline()
		if !ok || next > d {
			break
		}
		clock.Advance(next)
		d -= next
		s.Process()
	}
	clock.Advance(d)
	s.Process()
}

func TestScheduler(t *testing.T) {
	Convey("Given a class B scheduler", t, func() {
		t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := timer.NewManual(t0)
		gpsClock := &gps.Clock{}

		region, err := band.New("EU868", false, false)
		So(err, ShouldBeNil)
		bp := region.BeaconParams()

		host := &fakeHost{clock: clock}
		s := New(Config{
			Clock:     clock,
			GPS:       gpsClock,
			Region:    region,
			Encrypter: se.NewSoftSE(nil),
			Host:      host,
			Params:    DefaultParams(),
		})

		beacon := func(ts time.Duration) []byte {
			return EncodeBeacon(models.BeaconInfo{Time: ts}, bp)
		}

		Convey("Switching to class B is rejected before the beacon is locked", func() {
			So(s.SwitchClass(models.ClassB), ShouldEqual, ErrNotReady)
			So(s.UplinkCollision(3*time.Second, time.Second), ShouldEqual, 0)
		})

		Convey("When the acquisition is started without GPS time", func() {
			s.StartAcquisition()

			So(s.IsAcquisitionPending(), ShouldBeTrue)
			So(s.IsBeaconExpected(), ShouldBeTrue)
			So(host.rxBeacon, ShouldHaveLength, 1)
			So(host.rxBeacon[0].Continuous, ShouldBeTrue)
			So(host.rxBeacon[0].Frequency, ShouldEqual, 869525000)
			So(host.rxBeacon[0].SymbolTimeout, ShouldEqual, 8)

			Convey("Then no beacon within the beacon interval fails the acquisition", func() {
				run(clock, s, 128*time.Second)

				So(host.confirms, ShouldResemble, []models.EventInfoStatus{models.EventInfoStatusBeaconNotFound})
				So(host.sleep, ShouldEqual, 1)
				So(host.switchedClassA, ShouldBeFalse)
				So(s.IsAcquisitionPending(), ShouldBeFalse)
				So(s.BeaconState(), ShouldEqual, BeaconStateAcquisition)
			})

			Convey("When a beacon is received", func() {
				run(clock, s, 10*time.Second)
				lastBeaconRx := clock.Now().Add(-s.beaconTimeOnAir())

				So(s.RxBeacon(beacon(1280000*time.Second), -50, 5), ShouldBeTrue)

				So(host.confirms, ShouldResemble, []models.EventInfoStatus{models.EventInfoStatusOK})
				So(host.indications, ShouldResemble, []models.EventInfoStatus{models.EventInfoStatusBeaconLocked})
				So(s.BeaconState(), ShouldEqual, BeaconStateIdle)
				So(s.IsBeaconModeActive(), ShouldBeTrue)
				So(s.IsAcquisitionPending(), ShouldBeFalse)
				So(s.NextBeaconRx(), ShouldResemble, lastBeaconRx.Add(128*time.Second))
				So(gpsClock.Synced(), ShouldBeTrue)
				So(gpsClock.TimeSinceGPSEpoch(lastBeaconRx), ShouldEqual, 1280000*time.Second)

				Convey("Then the beacon window is opened at the next beacon", func() {
					run(clock, s, s.NextBeaconRx().Sub(clock.Now()))

					So(host.rxBeacon, ShouldHaveLength, 2)
					So(host.rxBeacon[1].Continuous, ShouldBeFalse)
					So(host.rxBeacon[1].At, ShouldResemble, s.NextBeaconRx().Add(-time.Millisecond))
					So(s.BeaconState(), ShouldEqual, BeaconStateRx)
					So(s.IsBeaconExpected(), ShouldBeTrue)

					Convey("When the beacon is missed", func() {
						run(clock, s, 50*time.Millisecond)
						s.RxBeaconTimeout()

						So(host.indications, ShouldResemble, []models.EventInfoStatus{
							models.EventInfoStatusBeaconLocked,
							models.EventInfoStatusBeaconLost,
						})
						So(s.BeaconSymbolTimeout(), ShouldEqual, 16)
						So(s.BeaconState(), ShouldEqual, BeaconStateIdle)

						Convey("Then the next beacon restores the default symbol timeout", func() {
							run(clock, s, s.NextBeaconRx().Sub(clock.Now()))
							So(s.RxBeacon(beacon(1280256*time.Second), -50, 5), ShouldBeTrue)

							So(s.BeaconSymbolTimeout(), ShouldEqual, 8)
							So(host.indications[len(host.indications)-1], ShouldEqual, models.EventInfoStatusBeaconLocked)
						})
					})

					Convey("When an invalid beacon is received", func() {
						b := beacon(1280128 * time.Second)
						b[3] ^= 0xff
						So(s.RxBeacon(b, -50, 5), ShouldBeTrue)

						Convey("Then it is handled as missed beacon", func() {
							So(host.indications[len(host.indications)-1], ShouldEqual, models.EventInfoStatusBeaconLost)
							So(s.BeaconSymbolTimeout(), ShouldEqual, 16)
						})
					})
				})

				Convey("Then missing the beacons for the max. beacon-less period switches to class A", func() {
					for i := 0; i < 100 && !host.switchedClassA; i++ {
						run(clock, s, s.NextBeaconRx().Sub(clock.Now()))
						run(clock, s, 50*time.Millisecond)
						s.RxBeaconTimeout()

						if i == 10 {
							So(s.BeaconSymbolTimeout(), ShouldEqual, 255)
							So(s.pingSlotSymbolTO, ShouldEqual, 30)
						}
					}

					// the symbol timeout doubles on every missed beacon, up to the max.
					var timeouts []uint16
					for _, rx := range host.rxBeacon[1:7] {
						timeouts = append(timeouts, rx.SymbolTimeout)
					}
					So(timeouts, ShouldResemble, []uint16{8, 16, 32, 64, 128, 255})
					for _, rx := range host.rxBeacon {
						So(rx.SymbolTimeout, ShouldBeLessThanOrEqualTo, 255)
					}

					So(host.switchedClassA, ShouldBeTrue)
					So(s.BeaconState(), ShouldEqual, BeaconStateAcquisition)
					So(s.IsBeaconModeActive(), ShouldBeFalse)
					So(clock.Now().Sub(t0), ShouldBeGreaterThan, 2*time.Hour)
				})

				Convey("When the beacon tracking is halted and resumed", func() {
					s.Halt()
					So(s.BeaconState(), ShouldEqual, BeaconStateHalt)

					s.Resume()
					So(s.BeaconState(), ShouldEqual, BeaconStateIdle)
					So(host.indications, ShouldHaveLength, 1)
				})

				Convey("Then the next beacon is protected from uplinks", func() {
					run(clock, s, 120*time.Second)
					So(s.UplinkCollision(3*time.Second, 2*time.Second), ShouldEqual, DefaultParams().BeaconReserved)
				})
			})
		})

		Convey("Given an assigned ping-slot", func() {
			s.SetPingSlotInfo(7)
			s.PingSlotInfoAns()

			s.StartAcquisition()
			run(clock, s, 10*time.Second)
			lastBeaconRx := clock.Now().Add(-s.beaconTimeOnAir())

			Convey("When a beacon is received", func() {
				So(s.RxBeacon(beacon(0), -50, 5), ShouldBeTrue)
				So(s.PingSlotState(), ShouldEqual, SlotStateIdle)
				So(s.SwitchClass(models.ClassB), ShouldBeNil)

				Convey("Then the ping-slot is opened at the ping offset", func() {
					run(clock, s, 80*time.Second)

					So(host.rxSlot, ShouldHaveLength, 1)
					So(host.rxSlot[0].Slot, ShouldEqual, models.RxSlotClassBPingSlot)
					So(host.rxSlot[0].Frequency, ShouldEqual, 869525000)
					So(host.rxSlot[0].Datarate, ShouldEqual, 3)
					So(host.rxSlot[0].SymbolTimeout, ShouldEqual, 0)
					So(host.rxSlot[0].At, ShouldResemble, lastBeaconRx.Add(74300*time.Millisecond-time.Millisecond))
					So(s.IsPingExpected(), ShouldBeTrue)

					Convey("Then no other slot is left in the beacon period", func() {
						s.SlotDone(models.RxSlotClassBPingSlot)
						So(s.PingSlotState(), ShouldEqual, SlotStateSetTimer)
						So(s.IsPingExpected(), ShouldBeFalse)
					})
				})

				Convey("Then switching to class A stops the slots", func() {
					So(s.SwitchClass(models.ClassA), ShouldBeNil)
					run(clock, s, 80*time.Second)
					So(host.rxSlot, ShouldHaveLength, 0)
					So(s.IsBeaconModeActive(), ShouldBeFalse)
				})
			})

			Convey("Given a multicast channel sharing the slot", func() {
				host.multicast = []models.MulticastChannelParams{
					{
						IsEnabled:   true,
						Class:       models.ClassB,
						Datarate:    3,
						Frequency:   869600000,
						Periodicity: 7,
					},
				}

				Convey("When a beacon is received", func() {
					So(s.RxBeacon(beacon(0), -50, 5), ShouldBeTrue)
					run(clock, s, 80*time.Second)

					Convey("Then the multicast-slot has priority", func() {
						So(host.rxSlot, ShouldHaveLength, 1)
						So(host.rxSlot[0].Slot, ShouldEqual, models.RxSlotClassBMulticastSlot)
						So(host.rxSlot[0].Frequency, ShouldEqual, 869600000)
						So(s.IsMulticastExpected(), ShouldBeTrue)
						So(s.NextMulticastChannel(), ShouldEqual, 0)
						So(s.PingSlotState(), ShouldEqual, SlotStateSetTimer)
					})
				})
			})
		})

		Convey("When the acquisition is started with GPS time", func() {
			gpsClock.Set(1280000*time.Second, t0)
			run(clock, s, 10*time.Second)
			s.StartAcquisition()

			So(s.BeaconState(), ShouldEqual, BeaconStateIdle)
			So(s.NextBeaconRx(), ShouldResemble, t0.Add(128*time.Second))
			So(host.rxBeacon, ShouldHaveLength, 0)

			Convey("Then the receiver is opened at the expected beacon", func() {
				run(clock, s, 118*time.Second)

				So(host.rxBeacon, ShouldHaveLength, 1)
				So(host.rxBeacon[0].Continuous, ShouldBeFalse)
				So(host.rxBeacon[0].At, ShouldResemble, t0.Add(128*time.Second-time.Millisecond))

				Convey("When the beacon is received", func() {
					So(s.RxBeacon(beacon(1280128*time.Second), -50, 5), ShouldBeTrue)

					Convey("Then the acquisition succeeds", func() {
						So(host.confirms, ShouldResemble, []models.EventInfoStatus{models.EventInfoStatusOK})
						So(s.IsBeaconModeActive(), ShouldBeTrue)
					})
				})

				Convey("When the beacon is not received", func() {
					s.RxBeaconTimeout()

					Convey("Then the acquisition fails", func() {
						So(host.confirms, ShouldResemble, []models.EventInfoStatus{models.EventInfoStatusBeaconNotFound})
						So(host.switchedClassA, ShouldBeFalse)
						So(s.BeaconState(), ShouldEqual, BeaconStateAcquisition)
					})
				})
			})
		})
	})
}
