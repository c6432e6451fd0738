package mac

import (
	"crypto/aes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/maccommand"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/chirpstack-device-mac/internal/radio"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/sim"
	se "github.com/brocaar/chirpstack-device-mac/internal/secureelement"
	"github.com/brocaar/chirpstack-device-mac/internal/security"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
	"github.com/brocaar/lorawan"
)

var (
	testDevAddr  = lorawan.DevAddr{0x26, 0x01, 0x1b, 0xda}
	testDevEUI   = lorawan.EUI64{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	testJoinEUI  = lorawan.EUI64{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	testNwkKey   = lorawan.AES128Key{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	testAppKey   = lorawan.AES128Key{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	testNwkSKey  = lorawan.AES128Key{0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11}
	testAppSKey  = lorawan.AES128Key{0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44, 0x44}
	testStart    = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	testRx2Freq  = uint32(869525000)
	testPort     = uint8(10)
	testPayload  = []byte{0x01, 0x02, 0x03}
)

type testEnv struct {
	mac   *MAC
	radio *sim.Radio
	clock *timer.Manual

	mcpsConfirms []models.McpsConfirm
	mcpsInds     []models.McpsIndication
	mlmeConfirms []models.MlmeConfirm
	mlmeInds     []models.MlmeIndication
}

func newTestEnv(t *testing.T) *testEnv {
	region, err := band.New("EU868", false, false)
	require.NoError(t, err)

	s := se.NewSoftSE(nil)
	s.SetDevEUI(testDevEUI)
	s.SetJoinEUI(testJoinEUI)

	env := testEnv{
		radio: sim.New(),
		clock: timer.NewManual(testStart),
	}

	env.mac, err = New(Config{
		Region:        region,
		Radio:         env.radio,
		SecureElement: s,
		Clock:         env.clock,
		Callbacks: Callbacks{
			McpsConfirm:    func(c models.McpsConfirm) { env.mcpsConfirms = append(env.mcpsConfirms, c) },
			McpsIndication: func(i models.McpsIndication) { env.mcpsInds = append(env.mcpsInds, i) },
			MlmeConfirm:    func(c models.MlmeConfirm) { env.mlmeConfirms = append(env.mlmeConfirms, c) },
			MlmeIndication: func(i models.MlmeIndication) { env.mlmeInds = append(env.mlmeInds, i) },
		},
	})
	require.NoError(t, err)
	env.mac.ctx.DutyCycleOn = false

	return &env
}

// activateABP activates a LoRaWAN 1.0 ABP session with ADR disabled.
func (e *testEnv) activateABP(t *testing.T) {
	assert := require.New(t)

	for _, p := range []models.MibParam{
		{Type: models.MibABPLrWanVersion, Value: security.LoRaWAN1_0_4},
		{Type: models.MibDevAddr, Value: testDevAddr},
		{Type: models.MibNetID, Value: lorawan.NetID{0x00, 0x00, 0x13}},
		{Type: models.MibFNwkSIntKey, Value: testNwkSKey},
		{Type: models.MibSNwkSIntKey, Value: testNwkSKey},
		{Type: models.MibNwkSEncKey, Value: testNwkSKey},
		{Type: models.MibAppSKey, Value: testAppSKey},
		{Type: models.MibAdrEnable, Value: false},
		{Type: models.MibNetworkActivation, Value: models.ActivationABP},
	} {
		assert.NoError(e.mac.MibSet(p), "mib %d", p.Type)
	}
}

// next advances the clock to the first timer which expires and processes
// the resulting events.
func (e *testEnv) next(t *testing.T) {
	d, ok := e.clock.NextDeadline()
	require.True(t, ok, "no active timer")
	e.clock.Advance(d)
	e.mac.Process()
}

func (e *testEnv) txDone() {
	e.radio.TxDone()
	e.mac.Process()
}

func (e *testEnv) rxTimeout() {
	e.radio.RxTimeout()
	e.mac.Process()
}

func (e *testEnv) rxDone(b []byte) {
	e.radio.RxDone(b, -50, 7)
	e.mac.Process()
}

// timeoutWindows lets the RX1 and RX2 windows of the last uplink time out.
func (e *testEnv) timeoutWindows(t *testing.T) {
	e.txDone()
	e.next(t)
	e.rxTimeout()
	e.next(t)
	e.rxTimeout()
}

func testDataDown(t *testing.T, mType lorawan.MType, fCnt uint32, ack bool, port *uint8, payload []byte) []byte {
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: mType,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: testDevAddr,
				FCtrl:   lorawan.FCtrl{ACK: ack},
				FCnt:    fCnt,
			},
			FPort: port,
		},
	}
	if port != nil && len(payload) > 0 {
		phy.MACPayload.(*lorawan.MACPayload).FRMPayload = []lorawan.Payload{
			&lorawan.DataPayload{Bytes: payload},
		}
		require.NoError(t, phy.EncryptFRMPayload(testAppSKey))
	}
	require.NoError(t, phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, testNwkSKey))

	b, err := phy.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	assert := require.New(t)

	_, err := New(Config{})
	assert.Equal(models.StatusParameterInvalid, err)

	env := newTestEnv(t)
	assert.False(env.mac.IsBusy())
	assert.Equal(radio.StateIdle, env.radio.Status())
	assert.True(env.radio.PublicNetwork())

	p, err := env.mac.MibGet(models.MibIsNetworkJoined)
	assert.NoError(err)
	assert.Equal(false, p.Value)
}

func TestAggregatedTimeOff(t *testing.T) {
	tests := []struct {
		Name             string
		TimeOnAir        time.Duration
		AggregatedDCycle uint16
		Expected         time.Duration
	}{
		{
			Name:             "no aggregated duty-cycle",
			TimeOnAir:        time.Second,
			AggregatedDCycle: 1,
			Expected:         0,
		},
		{
			Name:             "zero is clamped",
			TimeOnAir:        time.Second,
			AggregatedDCycle: 0,
			Expected:         0,
		},
		{
			Name:             "1 percent",
			TimeOnAir:        100 * time.Millisecond,
			AggregatedDCycle: 100,
			Expected:         9900 * time.Millisecond,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tst.Expected, aggregatedTimeOff(tst.TimeOnAir, tst.AggregatedDCycle))
		})
	}
}

func TestMcpsRequestValidation(t *testing.T) {
	t.Run("not joined", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)

		assert.Equal(models.StatusNoNetworkJoined, env.mac.McpsRequest(models.McpsReq{
			Type:    models.McpsUnconfirmed,
			FPort:   testPort,
			Payload: testPayload,
		}))
	})

	tests := []struct {
		Name     string
		Req      models.McpsReq
		Expected error
	}{
		{
			Name:     "invalid port",
			Req:      models.McpsReq{Type: models.McpsUnconfirmed, FPort: 224, Payload: testPayload, Datarate: 5},
			Expected: models.StatusParameterInvalid,
		},
		{
			Name:     "invalid datarate",
			Req:      models.McpsReq{Type: models.McpsUnconfirmed, FPort: testPort, Payload: testPayload, Datarate: 12},
			Expected: models.StatusDatarateInvalid,
		},
		{
			Name:     "payload too large",
			Req:      models.McpsReq{Type: models.McpsUnconfirmed, FPort: testPort, Payload: make([]byte, 52), Datarate: 0},
			Expected: models.StatusLengthError,
		},
		{
			Name:     "invalid type",
			Req:      models.McpsReq{Type: models.McpsMulticast, FPort: testPort, Payload: testPayload, Datarate: 5},
			Expected: models.StatusParameterInvalid,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			env := newTestEnv(t)
			env.activateABP(t)

			assert.Equal(tst.Expected, env.mac.McpsRequest(tst.Req))
			assert.Len(env.radio.Sent(), 0)
			assert.False(env.mac.IsBusy())
		})
	}
}

func TestDelayedUplink(t *testing.T) {
	tests := []struct {
		Name           string
		AllowDelayedTx bool
		ExpectedError  error
		ExpectedBusy   bool
	}{
		{
			Name:          "rejected",
			ExpectedError: models.StatusDutyCycleRestricted,
		},
		{
			Name:           "delayed",
			AllowDelayedTx: true,
			ExpectedBusy:   true,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			env := newTestEnv(t)
			env.activateABP(t)

			env.mac.ctx.LastAggrTx = testStart
			env.mac.ctx.AggregatedTimeOff = 10 * time.Second

			assert.Equal(tst.ExpectedError, env.mac.McpsRequest(models.McpsReq{
				Type:           models.McpsUnconfirmed,
				FPort:          testPort,
				Payload:        testPayload,
				Datarate:       5,
				AllowDelayedTx: tst.AllowDelayedTx,
			}))
			assert.Equal(10*time.Second, env.mac.DutyCycleWaitTime())
			assert.Equal(tst.ExpectedBusy, env.mac.IsBusy())
			assert.Len(env.radio.Sent(), 0)

			if !tst.AllowDelayedTx {
				return
			}

			d, ok := env.clock.NextDeadline()
			assert.True(ok)
			assert.Equal(10*time.Second, d)

			env.next(t)
			assert.Len(env.radio.Sent(), 1)

			env.timeoutWindows(t)
			assert.False(env.mac.IsBusy())
			assert.Len(env.mcpsConfirms, 1)
			assert.Equal(models.EventInfoStatusOK, env.mcpsConfirms[0].Status)
			assert.EqualValues(1, env.mcpsConfirms[0].NbTrans)
		})
	}
}

func TestUnconfirmedUplink(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t)
	env.activateABP(t)

	assert.NoError(env.mac.McpsRequest(models.McpsReq{
		Type:     models.McpsUnconfirmed,
		FPort:    testPort,
		Payload:  testPayload,
		Datarate: 5,
	}))
	assert.True(env.mac.IsBusy())
	assert.Equal(models.StatusBusy, env.mac.McpsRequest(models.McpsReq{Type: models.McpsUnconfirmed}))

	sent := env.radio.Sent()
	assert.Len(sent, 1)
	assert.Contains([]uint32{868100000, 868300000, 868500000}, sent[0].Frequency)
	assert.Equal(1+7+1+len(testPayload)+4, len(sent[0].Payload))

	var phy lorawan.PHYPayload
	assert.NoError(phy.UnmarshalBinary(sent[0].Payload))
	assert.Equal(lorawan.UnconfirmedDataUp, phy.MHDR.MType)
	ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, testNwkSKey, lorawan.AES128Key{})
	assert.NoError(err)
	assert.True(ok)

	assert.NoError(phy.DecryptFRMPayload(testAppSKey))
	macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
	assert.True(ok)
	assert.Equal(testDevAddr, macPL.FHDR.DevAddr)
	assert.EqualValues(1, macPL.FHDR.FCnt)
	assert.False(macPL.FHDR.FCtrl.ADR)
	assert.Equal(testPort, *macPL.FPort)
	assert.Equal([]lorawan.Payload{&lorawan.DataPayload{Bytes: testPayload}}, macPL.FRMPayload)

	env.txDone()
	assert.Len(env.mcpsConfirms, 0)

	// rx1 on the uplink channel
	env.next(t)
	rx := env.radio.Receives()
	assert.Len(rx, 1)
	assert.Equal(sent[0].Frequency, rx[0].Frequency)
	assert.Equal(3*time.Second, rx[0].Timeout)
	env.rxTimeout()

	// rx2
	env.next(t)
	rx = env.radio.Receives()
	assert.Len(rx, 2)
	assert.Equal(testRx2Freq, rx[1].Frequency)
	env.rxTimeout()

	assert.False(env.mac.IsBusy())
	assert.Len(env.mcpsConfirms, 1)
	c := env.mcpsConfirms[0]
	assert.Equal(models.McpsUnconfirmed, c.Type)
	assert.Equal(models.EventInfoStatusOK, c.Status)
	assert.EqualValues(5, c.Datarate)
	assert.EqualValues(1, c.NbTrans)
	assert.EqualValues(1, c.UpLinkCounter)
	assert.False(c.AckReceived)
	assert.Len(env.mcpsInds, 0)

	assert.EqualValues(1, env.mac.Context().AdrAckCounter)
	p, err := env.mac.MibGet(models.MibFCntUp)
	assert.NoError(err)
	assert.EqualValues(1, p.Value)

	// the next uplink uses the next frame-counter
	assert.NoError(env.mac.McpsRequest(models.McpsReq{
		Type:     models.McpsUnconfirmed,
		FPort:    testPort,
		Payload:  testPayload,
		Datarate: 5,
	}))
	env.timeoutWindows(t)
	assert.Len(env.mcpsConfirms, 2)
	assert.EqualValues(2, env.mcpsConfirms[1].UpLinkCounter)
}

func TestNbTransRepetitions(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t)
	env.activateABP(t)
	assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibChannelsNbTrans, Value: uint8(2)}))

	assert.NoError(env.mac.McpsRequest(models.McpsReq{
		Type:     models.McpsUnconfirmed,
		FPort:    testPort,
		Payload:  testPayload,
		Datarate: 5,
	}))
	env.timeoutWindows(t)
	assert.Len(env.mcpsConfirms, 0)
	env.timeoutWindows(t)

	sent := env.radio.Sent()
	assert.Len(sent, 2)
	assert.Equal(sent[0].Payload, sent[1].Payload)

	assert.Len(env.mcpsConfirms, 1)
	assert.EqualValues(2, env.mcpsConfirms[0].NbTrans)
	assert.Equal(models.EventInfoStatusOK, env.mcpsConfirms[0].Status)
}

func TestConfirmedUplink(t *testing.T) {
	t.Run("no ack", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.NoError(env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsConfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
			NbTrials: 3,
		}))

		for i := 0; i < 3; i++ {
			env.timeoutWindows(t)
			if i < 2 {
				assert.Len(env.mcpsConfirms, 0)
				// ack timeout
				env.next(t)
			}
		}

		sent := env.radio.Sent()
		assert.Len(sent, 3)
		assert.Equal(sent[0].Payload, sent[1].Payload)
		assert.Equal(sent[0].Payload, sent[2].Payload)

		// the data-rate is lowered on the second retry
		assert.Equal(7, sent[0].Config.SpreadFactor)
		assert.Equal(7, sent[1].Config.SpreadFactor)
		assert.Equal(8, sent[2].Config.SpreadFactor)

		assert.False(env.mac.IsBusy())
		assert.Len(env.mcpsConfirms, 1)
		c := env.mcpsConfirms[0]
		assert.Equal(models.McpsConfirmed, c.Type)
		assert.Equal(models.EventInfoStatusRx2Timeout, c.Status)
		assert.False(c.AckReceived)
		assert.EqualValues(3, c.NbTrans)
		assert.EqualValues(4, c.Datarate)
	})

	t.Run("retry data-rate schedule", func(t *testing.T) {
		tests := []struct {
			Name     string
			Datarate uint8
			NbTrials uint8
			Expected []int
		}{
			{
				Name:     "two transmissions keep the data-rate",
				Datarate: 5,
				NbTrials: 2,
				Expected: []int{7, 7},
			},
			{
				Name:     "every second retry steps down",
				Datarate: 5,
				NbTrials: 5,
				Expected: []int{7, 7, 8, 8, 9},
			},
			{
				Name:     "the lowest data-rate is kept",
				Datarate: 0,
				NbTrials: 4,
				Expected: []int{12, 12, 12, 12},
			},
		}

		for _, tst := range tests {
			t.Run(tst.Name, func(t *testing.T) {
				assert := require.New(t)
				env := newTestEnv(t)
				env.activateABP(t)

				assert.NoError(env.mac.McpsRequest(models.McpsReq{
					Type:     models.McpsConfirmed,
					FPort:    testPort,
					Payload:  testPayload,
					Datarate: tst.Datarate,
					NbTrials: tst.NbTrials,
				}))

				for i := range tst.Expected {
					env.timeoutWindows(t)
					if i < len(tst.Expected)-1 {
						env.next(t)
					}
				}

				sent := env.radio.Sent()
				assert.Len(sent, len(tst.Expected))
				for i, sf := range tst.Expected {
					assert.Equal(sf, sent[i].Config.SpreadFactor, "transmission %d", i+1)
				}
				assert.Len(env.mcpsConfirms, 1)
				assert.EqualValues(len(tst.Expected), env.mcpsConfirms[0].NbTrans)
			})
		}
	})

	t.Run("ack in rx1", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.NoError(env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsConfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
		}))
		env.txDone()
		env.next(t)

		port := uint8(20)
		env.rxDone(testDataDown(t, lorawan.UnconfirmedDataDown, 1, true, &port, []byte{0x0a, 0x0b}))

		assert.False(env.mac.IsBusy())
		assert.Len(env.radio.Receives(), 1)

		assert.Len(env.mcpsConfirms, 1)
		c := env.mcpsConfirms[0]
		assert.Equal(models.EventInfoStatusOK, c.Status)
		assert.True(c.AckReceived)
		assert.EqualValues(1, c.NbTrans)

		assert.Len(env.mcpsInds, 1)
		ind := env.mcpsInds[0]
		assert.Equal(models.EventInfoStatusOK, ind.Status)
		assert.Equal(models.McpsUnconfirmed, ind.Type)
		assert.True(ind.RxData)
		assert.True(ind.AckReceived)
		assert.Equal(models.RxSlotWin1, ind.RxSlot)
		assert.Equal(port, ind.FPort)
		assert.Equal([]byte{0x0a, 0x0b}, ind.Buffer)
		assert.EqualValues(1, ind.DownLinkCounter)
		assert.EqualValues(-50, ind.RSSI)
		assert.EqualValues(7, ind.SNR)

		assert.EqualValues(0, env.mac.Context().AdrAckCounter)
	})
}

func TestDownlinkRejected(t *testing.T) {
	t.Run("replayed frame aborts the receive windows", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		port := uint8(20)
		down := testDataDown(t, lorawan.UnconfirmedDataDown, 1, false, &port, []byte{0x01})

		req := models.McpsReq{
			Type:     models.McpsUnconfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
		}
		assert.NoError(env.mac.McpsRequest(req))
		env.txDone()
		env.next(t)
		env.rxDone(down)
		assert.False(env.mac.IsBusy())
		assert.Len(env.mcpsInds, 1)
		assert.True(env.mcpsInds[0].RxData)

		assert.NoError(env.mac.McpsRequest(req))
		env.txDone()
		env.next(t)
		env.rxDone(down)

		assert.False(env.mac.IsBusy())
		assert.Len(env.radio.Receives(), 2)
		assert.Len(env.mcpsInds, 2)
		assert.Equal(models.EventInfoStatusDownlinkRepeated, env.mcpsInds[1].Status)
		assert.False(env.mcpsInds[1].RxData)
		assert.Len(env.mcpsConfirms, 2)
	})

	t.Run("invalid mic", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		port := uint8(20)
		down := testDataDown(t, lorawan.UnconfirmedDataDown, 1, false, &port, []byte{0x01})
		down[len(down)-1] ^= 0xff

		assert.NoError(env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsUnconfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
		}))
		env.txDone()
		env.next(t)
		env.rxDone(down)

		assert.Len(env.mcpsInds, 1)
		assert.Equal(models.EventInfoStatusMICFail, env.mcpsInds[0].Status)
		assert.False(env.mac.IsBusy())
	})

	t.Run("fopts with mac-commands on port 0", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		down := []byte{
			0x60,
			0xda, 0x1b, 0x01, 0x26,
			0x01,
			0x01, 0x00,
			0x02,
			0x00,
			0xaa,
			0x00, 0x00, 0x00, 0x00,
		}

		assert.NoError(env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsUnconfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
		}))
		env.txDone()
		env.next(t)
		env.rxDone(down)

		assert.False(env.mac.IsBusy())
		assert.Len(env.radio.Receives(), 1)
		assert.Len(env.mcpsInds, 1)
		assert.Equal(models.EventInfoStatusError, env.mcpsInds[0].Status)
		assert.False(env.mcpsInds[0].RxData)
	})
}

func TestMacCommands(t *testing.T) {
	t.Run("fopts", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{Type: models.MlmeLinkCheck}))
		assert.Equal(models.StatusBusy, env.mac.MlmeRequest(models.MlmeReq{Type: models.MlmeLinkCheck}))

		assert.NoError(env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsUnconfirmed,
			FPort:    testPort,
			Payload:  testPayload,
			Datarate: 5,
		}))

		sent := env.radio.Sent()
		assert.Len(sent, 1)
		assert.Equal(1+7+1+1+len(testPayload)+4, len(sent[0].Payload))

		var phy lorawan.PHYPayload
		assert.NoError(phy.UnmarshalBinary(sent[0].Payload))
		macPL := phy.MACPayload.(*lorawan.MACPayload)
		assert.Len(macPL.FHDR.FOpts, 1)

		// no answer, the link-check is confirmed with the rx2 timeout
		env.timeoutWindows(t)
		assert.Len(env.mlmeConfirms, 1)
		assert.Equal(models.MlmeLinkCheck, env.mlmeConfirms[0].Type)
		assert.Equal(models.EventInfoStatusRx2Timeout, env.mlmeConfirms[0].Status)
	})

	t.Run("skipped app data", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{Type: models.MlmeLinkCheck}))
		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{Type: models.MlmeDeviceTime}))

		// the max. payload size at DR 0 is 51 bytes
		err := env.mac.McpsRequest(models.McpsReq{
			Type:     models.McpsUnconfirmed,
			FPort:    testPort,
			Payload:  make([]byte, 51),
			Datarate: 0,
		})
		assert.Equal(models.StatusSkippedAppData, err)

		sent := env.radio.Sent()
		assert.Len(sent, 1)
		assert.Equal(1+7+1+2+4, len(sent[0].Payload))

		var phy lorawan.PHYPayload
		assert.NoError(phy.UnmarshalBinary(sent[0].Payload))
		macPL := phy.MACPayload.(*lorawan.MACPayload)
		assert.EqualValues(0, *macPL.FPort)
		assert.Len(macPL.FHDR.FOpts, 0)
	})
}

func TestJoin(t *testing.T) {
	joinAccept := func(t *testing.T, rxDelay uint8) []byte {
		phy := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{
				MType: lorawan.JoinAccept,
				Major: lorawan.LoRaWANR1,
			},
			MACPayload: &lorawan.JoinAcceptPayload{
				JoinNonce: 0x010203,
				HomeNetID: lorawan.NetID{0x00, 0x00, 0x13},
				DevAddr:   testDevAddr,
				DLSettings: lorawan.DLSettings{
					RX2DataRate: 3,
					RX1DROffset: 1,
				},
				RXDelay: rxDelay,
			},
		}
		require.NoError(t, phy.SetDownlinkJoinMIC(lorawan.JoinRequestType, testJoinEUI, lorawan.DevNonce(1), testNwkKey))
		require.NoError(t, phy.EncryptJoinAcceptPayload(testNwkKey))
		b, err := phy.MarshalBinary()
		require.NoError(t, err)
		return b
	}

	t.Run("accepted", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibNwkKey, Value: testNwkKey}))

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{
			Type:         models.MlmeJoin,
			JoinDatarate: 5,
		}))
		sent := env.radio.Sent()
		assert.Len(sent, 1)
		assert.Len(sent[0].Payload, 23)

		var phy lorawan.PHYPayload
		assert.NoError(phy.UnmarshalBinary(sent[0].Payload))
		assert.Equal(lorawan.JoinRequest, phy.MHDR.MType)
		ok, err := phy.ValidateUplinkJoinMIC(testNwkKey)
		assert.NoError(err)
		assert.True(ok)
		jr := phy.MACPayload.(*lorawan.JoinRequestPayload)
		assert.Equal(testDevEUI, jr.DevEUI)
		assert.Equal(testJoinEUI, jr.JoinEUI)

		env.txDone()
		env.next(t)
		assert.Len(env.radio.Receives(), 1)
		assert.Equal(testStart.Add(5*time.Second).Add(env.mac.rx1Params.WindowOffset), env.clock.Now())

		env.rxDone(joinAccept(t, 2))

		assert.False(env.mac.IsBusy())
		assert.Len(env.mlmeConfirms, 1)
		assert.Equal(models.MlmeJoin, env.mlmeConfirms[0].Type)
		assert.Equal(models.EventInfoStatusOK, env.mlmeConfirms[0].Status)
		assert.EqualValues(1, env.mlmeConfirms[0].NbRetries)

		ctx := env.mac.Context()
		assert.Equal(models.ActivationOTAA, ctx.Activation)
		assert.Equal(testDevAddr, ctx.DevAddr)
		assert.Equal(lorawan.NetID{0x00, 0x00, 0x13}, ctx.NetID)
		assert.EqualValues(1, ctx.Params.Rx1DrOffset)
		assert.EqualValues(3, ctx.Params.Rx2Channel.Datarate)
		assert.Equal(2*time.Second, ctx.Params.ReceiveDelay1)
		assert.Equal(3*time.Second, ctx.Params.ReceiveDelay2)
		assert.Equal(security.LoRaWAN1_0_4, ctx.Security.LrWanVersion)

		p, err := env.mac.MibGet(models.MibIsNetworkJoined)
		assert.NoError(err)
		assert.Equal(true, p.Value)
	})

	t.Run("no join-accept", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibNwkKey, Value: testNwkKey}))

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{
			Type:         models.MlmeJoin,
			JoinDatarate: 5,
		}))
		env.timeoutWindows(t)

		assert.False(env.mac.IsBusy())
		assert.Len(env.mlmeConfirms, 1)
		assert.Equal(models.EventInfoStatusJoinFail, env.mlmeConfirms[0].Status)

		p, err := env.mac.MibGet(models.MibIsNetworkJoined)
		assert.NoError(err)
		assert.Equal(false, p.Value)
	})

	t.Run("delayed by the aggregated time-off", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibNwkKey, Value: testNwkKey}))
		env.mac.ctx.LastAggrTx = testStart
		env.mac.ctx.AggregatedTimeOff = 3 * time.Second

		assert.Equal(models.StatusDutyCycleRestricted, env.mac.MlmeRequest(models.MlmeReq{
			Type:         models.MlmeJoin,
			JoinDatarate: 5,
		}))
		assert.False(env.mac.IsBusy())

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{
			Type:           models.MlmeJoin,
			JoinDatarate:   5,
			AllowDelayedTx: true,
		}))
		assert.True(env.mac.IsBusy())
		assert.Len(env.radio.Sent(), 0)

		env.next(t)
		assert.Equal(testStart.Add(3*time.Second), env.clock.Now())
		assert.Len(env.radio.Sent(), 1)

		env.timeoutWindows(t)
		assert.False(env.mac.IsBusy())
		assert.Len(env.mlmeConfirms, 1)
		assert.Equal(models.EventInfoStatusJoinFail, env.mlmeConfirms[0].Status)
	})

	t.Run("invalid datarate", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)

		assert.Equal(models.StatusDatarateInvalid, env.mac.MlmeRequest(models.MlmeReq{
			Type:         models.MlmeJoin,
			JoinDatarate: 9,
		}))
		assert.Len(env.radio.Sent(), 0)
	})
}

// testDeriveKey returns aes128_encrypt(key, prefix | data | pad16).
func testDeriveKey(t *testing.T, key lorawan.AES128Key, prefix byte, data ...[]byte) lorawan.AES128Key {
	in := make([]byte, 16)
	in[0] = prefix
	n := 1
	for _, d := range data {
		n += copy(in[n:], d)
	}

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	var out lorawan.AES128Key
	block.Encrypt(out[:], in)
	return out
}

// testSessionKeys11 returns the FNwkSIntKey, SNwkSIntKey and AppSKey for a
// LoRaWAN 1.1 session.
func testSessionKeys11(t *testing.T, joinNonce uint32, nonce uint16) (lorawan.AES128Key, lorawan.AES128Key, lorawan.AES128Key) {
	joinEUI, err := testJoinEUI.MarshalBinary()
	require.NoError(t, err)
	jn := []byte{byte(joinNonce), byte(joinNonce >> 8), byte(joinNonce >> 16)}
	dn := []byte{byte(nonce), byte(nonce >> 8)}

	return testDeriveKey(t, testNwkKey, 0x01, jn, joinEUI, dn),
		testDeriveKey(t, testNwkKey, 0x03, jn, joinEUI, dn),
		testDeriveKey(t, testAppKey, 0x02, jn, joinEUI, dn)
}

func TestRejoin(t *testing.T) {
	devEUI, err := testDevEUI.MarshalBinary()
	require.NoError(t, err)
	jsIntKey := testDeriveKey(t, testNwkKey, 0x06, devEUI)
	jsEncKey := testDeriveKey(t, testNwkKey, 0x05, devEUI)

	joinAccept := func(t *testing.T, joinType lorawan.JoinType, joinNonce uint32, nonce uint16, encKey lorawan.AES128Key) []byte {
		phy := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{
				MType: lorawan.JoinAccept,
				Major: lorawan.LoRaWANR1,
			},
			MACPayload: &lorawan.JoinAcceptPayload{
				JoinNonce: lorawan.JoinNonce(joinNonce),
				HomeNetID: lorawan.NetID{0x00, 0x00, 0x13},
				DevAddr:   testDevAddr,
				DLSettings: lorawan.DLSettings{
					OptNeg: true,
				},
				RXDelay: 1,
			},
		}
		require.NoError(t, phy.SetDownlinkJoinMIC(joinType, testJoinEUI, lorawan.DevNonce(nonce), jsIntKey))
		require.NoError(t, phy.EncryptJoinAcceptPayload(encKey))
		b, err := phy.MarshalBinary()
		require.NoError(t, err)
		return b
	}

	// join joins a LoRaWAN 1.1 session with DevNonce 5.
	join := func(t *testing.T, env *testEnv) {
		assert := require.New(t)
		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibNwkKey, Value: testNwkKey}))
		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibAppKey, Value: testAppKey}))
		env.mac.ctx.Security.DevNonce = 4

		assert.NoError(env.mac.MlmeRequest(models.MlmeReq{
			Type:         models.MlmeJoin,
			JoinDatarate: 5,
		}))
		env.txDone()
		env.next(t)
		env.rxDone(joinAccept(t, lorawan.JoinRequestType, 1, 5, testNwkKey))

		assert.False(env.mac.IsBusy())
		assert.Len(env.mlmeConfirms, 1)
		assert.Equal(models.EventInfoStatusOK, env.mlmeConfirms[0].Status)
		assert.Equal(security.LoRaWAN1_1_1, env.mac.Context().Security.LrWanVersion)
		assert.EqualValues(5, env.mac.Context().Security.DevNonce)
	}

	tests := []struct {
		Name             string
		Type             models.MlmeType
		JoinType         lorawan.JoinType
		RJcount1         uint16
		ExpectedNonce    uint16
		ExpectedRJcount0 uint16
		ExpectedRJcount1 uint16
	}{
		{
			Name:             "rejoin type 0",
			Type:             models.MlmeRejoin0,
			JoinType:         lorawan.RejoinRequestType0,
			RJcount1:         6,
			ExpectedNonce:    1,
			ExpectedRJcount0: 0,
			ExpectedRJcount1: 6,
		},
		{
			Name:             "rejoin type 1",
			Type:             models.MlmeRejoin1,
			JoinType:         lorawan.RejoinRequestType1,
			RJcount1:         6,
			ExpectedNonce:    7,
			ExpectedRJcount0: 0,
			ExpectedRJcount1: 7,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			env := newTestEnv(t)
			join(t, env)

			env.mac.ctx.Security.RJcount1 = tst.RJcount1
			env.mac.ctx.Security.FCntList.FCntUp = 12

			assert.NoError(env.mac.MlmeRequest(models.MlmeReq{Type: tst.Type}))
			sent := env.radio.Sent()
			assert.Len(sent, 2)

			var phy lorawan.PHYPayload
			assert.NoError(phy.UnmarshalBinary(sent[1].Payload))
			assert.Equal(lorawan.RejoinRequest, phy.MHDR.MType)
			switch pl := phy.MACPayload.(type) {
			case *lorawan.RejoinRequestType02Payload:
				assert.Equal(tst.JoinType, pl.RejoinType)
				assert.Equal(tst.ExpectedNonce, pl.RJCount0)
			case *lorawan.RejoinRequestType1Payload:
				assert.Equal(tst.JoinType, pl.RejoinType)
				assert.Equal(tst.ExpectedNonce, pl.RJCount1)
			default:
				t.Fatalf("unexpected payload: %T", pl)
			}

			env.txDone()
			env.next(t)
			env.rxDone(joinAccept(t, tst.JoinType, 2, tst.ExpectedNonce, jsEncKey))

			assert.False(env.mac.IsBusy())
			assert.Len(env.mlmeConfirms, 2)
			assert.Equal(tst.Type, env.mlmeConfirms[1].Type)
			assert.Equal(models.EventInfoStatusOK, env.mlmeConfirms[1].Status)

			sec := env.mac.Context().Security
			assert.EqualValues(2, sec.JoinNonce)
			assert.EqualValues(5, sec.DevNonce)
			assert.Equal(tst.ExpectedRJcount0, sec.RJcount0)
			assert.Equal(tst.ExpectedRJcount1, sec.RJcount1)
			assert.EqualValues(0, sec.FCntList.FCntUp)
			assert.EqualValues(security.FCntDownInitialValue, sec.FCntList.NFCntDown)
			assert.EqualValues(security.FCntDownInitialValue, sec.FCntList.AFCntDown)

			// the next uplink is secured with the keys derived from the RJcount
			assert.NoError(env.mac.McpsRequest(models.McpsReq{
				Type:     models.McpsUnconfirmed,
				FPort:    testPort,
				Payload:  testPayload,
				Datarate: 5,
			}))
			last, ok := env.radio.LastSent()
			assert.True(ok)

			fNwkSIntKey, sNwkSIntKey, appSKey := testSessionKeys11(t, 2, tst.ExpectedNonce)
			_, _, devNonceAppSKey := testSessionKeys11(t, 2, 5)
			assert.NotEqual(devNonceAppSKey, appSKey)

			var up lorawan.PHYPayload
			assert.NoError(up.UnmarshalBinary(last.Payload))
			txCh := uint8((last.Frequency - 868100000) / 200000)
			ok, err := up.ValidateUplinkDataMIC(lorawan.LoRaWAN1_1, 0, 5, txCh, fNwkSIntKey, sNwkSIntKey)
			assert.NoError(err)
			assert.True(ok)

			assert.NoError(up.DecryptFRMPayload(appSKey))
			macPL := up.MACPayload.(*lorawan.MACPayload)
			assert.Equal(testPort, *macPL.FPort)
			assert.Equal([]lorawan.Payload{&lorawan.DataPayload{Bytes: testPayload}}, macPL.FRMPayload)
		})
	}

	t.Run("forced rejoin delayed by the aggregated time-off", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		join(t, env)

		env.mac.ctx.LastAggrTx = env.clock.Now()
		env.mac.ctx.AggregatedTimeOff = 5 * time.Second
		start := env.clock.Now()

		env.mac.startForceRejoin(maccommand.ForceRejoinParams{RejoinType: 0, Datarate: 5})
		env.next(t)
		assert.True(env.mac.IsBusy())
		assert.Len(env.radio.Sent(), 1)

		env.next(t)
		assert.Equal(start.Add(5*time.Second), env.clock.Now())
		sent := env.radio.Sent()
		assert.Len(sent, 2)

		var phy lorawan.PHYPayload
		assert.NoError(phy.UnmarshalBinary(sent[1].Payload))
		pl, ok := phy.MACPayload.(*lorawan.RejoinRequestType02Payload)
		assert.True(ok)
		assert.Equal(lorawan.RejoinRequestType0, pl.RejoinType)
	})
}

func TestTxCw(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t)
	env.radio.Unsupported[868300000] = true

	assert.Equal(models.StatusFrequencyInvalid, env.mac.MlmeRequest(models.MlmeReq{
		Type:          models.MlmeTxCw,
		TxCwFrequency: 868300000,
	}))

	assert.NoError(env.mac.MlmeRequest(models.MlmeReq{
		Type:          models.MlmeTxCw,
		TxCwFrequency: 868100000,
		TxCwPower:     14,
		TxCwTimeout:   10 * time.Second,
	}))
	assert.True(env.mac.IsBusy())
	assert.Len(env.radio.ContinuousWaves(), 1)

	env.radio.TxTimeout()
	env.mac.Process()

	assert.False(env.mac.IsBusy())
	assert.Len(env.mlmeConfirms, 1)
	assert.Equal(models.MlmeTxCw, env.mlmeConfirms[0].Type)
	assert.Equal(models.EventInfoStatusOK, env.mlmeConfirms[0].Status)
}
