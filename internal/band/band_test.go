package band

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
)

func newTestRegion(t *testing.T, name string) Region {
	r, err := New(name, false, false)
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	t.Run("EU868", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		assert.Equal("EU868", r.Name())

		for i, f := range []uint32{868100000, 868300000, 868500000} {
			c, ok := r.Channel(i)
			assert.True(ok)
			assert.Equal(f, c.Frequency)
			assert.EqualValues(0, c.MinDR)
			assert.EqualValues(5, c.MaxDR)
			assert.Equal(0, c.Band)
		}
		_, ok := r.Channel(3)
		assert.False(ok)

		s := r.State()
		assert.Equal([]uint16{0x0007}, s.ChannelsMask)
		assert.Equal([]uint16{0x0007}, s.ChannelsDefaultMask)

		d := r.Defaults()
		assert.Equal(RxChannelParams{Frequency: 869525000, Datarate: 0}, d.Rx2Channel)
		assert.Equal(time.Second, d.ReceiveDelay1)
		assert.Equal(2*time.Second, d.ReceiveDelay2)
		assert.Equal(5*time.Second, d.JoinAcceptDelay1)
		assert.Equal(6*time.Second, d.JoinAcceptDelay2)
		assert.EqualValues(16384, d.MaxFCntGap)
		assert.True(d.DutyCycleEnabled)
	})

	t.Run("AS923", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "AS923")

		for i, f := range []uint32{923200000, 923400000} {
			c, ok := r.Channel(i)
			assert.True(ok)
			assert.Equal(f, c.Frequency)
		}
		assert.Equal(RxChannelParams{Frequency: 923200000, Datarate: 2}, r.Defaults().Rx2Channel)
		assert.False(r.Defaults().DutyCycleEnabled)
	})

	t.Run("unknown region", func(t *testing.T) {
		assert := require.New(t)
		_, err := New("XX123", false, false)
		assert.Equal(ErrNotSupported, errors.Cause(err))
	})
}

func TestJoinDutyCycle(t *testing.T) {
	tests := []struct {
		Elapsed  time.Duration
		Expected uint16
	}{
		{0, 100},
		{59 * time.Minute, 100},
		{time.Hour, 1000},
		{10*time.Hour + 59*time.Minute, 1000},
		{11 * time.Hour, 10000},
		{48 * time.Hour, 10000},
	}

	for _, tst := range tests {
		t.Run(tst.Elapsed.String(), func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tst.Expected, JoinDutyCycle(tst.Elapsed))
		})
	}
}

func TestDutyCycleCredits(t *testing.T) {
	t.Run("airtime over 24 hours is bounded by the duty-cycle", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		now := start
		toa := time.Second

		var count int
		for now.Before(start.Add(24 * time.Hour)) {
			ch, wait, err := r.NextChannel(NextChannelParams{
				Now:              now,
				Datarate:         0,
				Joined:           true,
				DutyCycleEnabled: true,
				TimeOnAir:        toa,
			})
			if err != nil {
				assert.Equal(ErrDutyCycleRestricted, err)
				assert.True(wait > 0)
				now = now.Add(wait)
				continue
			}

			r.SetBandTxDone(ch, true, toa, true, now.Sub(start), now)
			count++
			now = now.Add(toa)

			for _, b := range r.State().Bands {
				assert.True(b.TimeCredits >= 0)
			}
		}

		// initial credits (1h) plus the credits of 24h, at 1% duty-cycle
		assert.True(count <= (3600+86400)/100, "count: %d", count)
		assert.True(count >= 36)
	})

	t.Run("credits are clamped at zero", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		now := time.Now()

		r.SetBandTxDone(0, true, 2*time.Hour, true, 0, now)
		assert.Equal(time.Duration(0), r.State().Bands[0].TimeCredits)

		_, wait, err := r.NextChannel(NextChannelParams{
			Now:              now,
			Joined:           true,
			DutyCycleEnabled: true,
			TimeOnAir:        time.Second,
		})
		assert.Equal(ErrDutyCycleRestricted, err)
		assert.Equal(100*time.Second, wait)
	})

	t.Run("duty-cycle disabled", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		now := time.Now()

		for i := 0; i < 100; i++ {
			ch, _, err := r.NextChannel(NextChannelParams{
				Now:       now,
				Joined:    true,
				TimeOnAir: time.Second,
			})
			assert.NoError(err)
			r.SetBandTxDone(ch, true, time.Second, false, 0, now)
		}
	})

	t.Run("aggregated time-off", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		now := time.Now()

		_, wait, err := r.NextChannel(NextChannelParams{
			Now:         now,
			LastAggrTx:  now.Add(-time.Second),
			AggrTimeOff: 3 * time.Second,
			Joined:      true,
			TimeOnAir:   time.Second,
		})
		assert.Equal(ErrDutyCycleRestricted, err)
		assert.Equal(2*time.Second, wait)
	})

	t.Run("no channel for data-rate", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		_, _, err := r.NextChannel(NextChannelParams{
			Now:       time.Now(),
			Datarate:  7,
			Joined:    true,
			TimeOnAir: time.Second,
		})
		assert.Equal(ErrNoChannelFound, err)
	})

	t.Run("random channel selection", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		ch, _, err := r.NextChannel(NextChannelParams{
			Now:       time.Now(),
			Joined:    true,
			TimeOnAir: time.Second,
			Intn:      func(n int) int { return n - 1 },
		})
		assert.NoError(err)
		assert.Equal(2, ch)
	})
}

func chMask(channels ...int) lorawan.ChMask {
	var m lorawan.ChMask
	for _, c := range channels {
		m[c] = true
	}
	return m
}

func TestLinkAdrReq(t *testing.T) {
	tests := []struct {
		Name     string
		Params   LinkAdrReqParams
		Expected LinkAdrReqResult
	}{
		{
			Name: "valid request",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 5, TXPower: 3, ChMask: chMask(0, 1), Redundancy: lorawan.Redundancy{NbRep: 2}},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				DataRateACK:    true,
				PowerACK:       true,
				Datarate:       5,
				TxPower:        3,
				NbTrans:        2,
				ChannelsMask:   []uint16{0x0003},
			},
		},
		{
			Name: "undefined channel enabled",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 5, TXPower: 3, ChMask: chMask(0, 5), Redundancy: lorawan.Redundancy{NbRep: 2}},
				},
				AdrEnabled:      true,
				CurrentDatarate: 1,
				CurrentNbTrans:  1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: false,
				DataRateACK:    true,
				PowerACK:       true,
				Datarate:       1,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0007},
			},
		},
		{
			Name: "all channels disabled",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 0x0f, TXPower: 0x0f},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				DataRateACK:  true,
				PowerACK:     true,
				NbTrans:      1,
				ChannelsMask: []uint16{0x0007},
			},
		},
		{
			Name: "chmaskcntl 6 enables all channels, keep dr and power",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 0x0f, TXPower: 0x0f, Redundancy: lorawan.Redundancy{ChMaskCntl: 6}},
				},
				AdrEnabled:      true,
				CurrentDatarate: 4,
				CurrentTxPower:  2,
				CurrentNbTrans:  3,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				DataRateACK:    true,
				PowerACK:       true,
				Datarate:       4,
				TxPower:        2,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0007},
			},
		},
		{
			Name: "rfu chmaskcntl",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 0x0f, TXPower: 0x0f, Redundancy: lorawan.Redundancy{ChMaskCntl: 3}},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				DataRateACK:  true,
				PowerACK:     true,
				NbTrans:      1,
				ChannelsMask: []uint16{0x0007},
			},
		},
		{
			Name: "invalid tx power",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 5, TXPower: 8, ChMask: chMask(0, 1, 2)},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				DataRateACK:    true,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0007},
			},
		},
		{
			Name: "data-rate not supported by enabled channels",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 6, TXPower: 1, ChMask: chMask(0, 1, 2)},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				PowerACK:       true,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0007},
			},
		},
		{
			Name: "adr disabled",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 3, TXPower: 1, ChMask: chMask(0, 1, 2)},
				},
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0007},
			},
		},
		{
			Name: "block, last request wins",
			Params: LinkAdrReqParams{
				Requests: []lorawan.LinkADRReqPayload{
					{DataRate: 1, TXPower: 1, Redundancy: lorawan.Redundancy{ChMaskCntl: 6}},
					{DataRate: 2, TXPower: 4, ChMask: chMask(1)},
				},
				AdrEnabled:     true,
				CurrentNbTrans: 1,
			},
			Expected: LinkAdrReqResult{
				ChannelMaskACK: true,
				DataRateACK:    true,
				PowerACK:       true,
				Datarate:       2,
				TxPower:        4,
				NbTrans:        1,
				ChannelsMask:   []uint16{0x0002},
			},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			r := newTestRegion(t, "EU868")

			out := r.LinkAdrReq(tst.Params)
			assert.Equal(tst.Expected, out)

			// the region state is never changed
			assert.Equal([]uint16{0x0007}, r.State().ChannelsMask)
		})
	}
}

func TestNewChannelReq(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	ans := r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 3, Freq: 868700000, MinDR: 0, MaxDR: 5})
	assert.Equal(lorawan.NewChannelAnsPayload{ChannelFrequencyOK: true, DataRateRangeOK: true}, ans)
	c, ok := r.Channel(3)
	assert.True(ok)
	assert.Equal(Channel{Frequency: 868700000, MinDR: 0, MaxDR: 5, Band: 1}, c)
	assert.Equal([]uint16{0x000f}, r.State().ChannelsMask)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 4, Freq: 900000000, MinDR: 0, MaxDR: 5})
	assert.Equal(lorawan.NewChannelAnsPayload{ChannelFrequencyOK: false, DataRateRangeOK: true}, ans)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 4, Freq: 867100000, MinDR: 5, MaxDR: 3})
	assert.Equal(lorawan.NewChannelAnsPayload{ChannelFrequencyOK: true, DataRateRangeOK: false}, ans)
	_, ok = r.Channel(4)
	assert.False(ok)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 0, Freq: 867100000, MinDR: 0, MaxDR: 5})
	assert.Equal(lorawan.NewChannelAnsPayload{ChannelFrequencyOK: false, DataRateRangeOK: true}, ans)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 16, Freq: 867100000, MinDR: 0, MaxDR: 5})
	assert.Equal(lorawan.NewChannelAnsPayload{}, ans)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 3})
	assert.Equal(lorawan.NewChannelAnsPayload{ChannelFrequencyOK: true, DataRateRangeOK: true}, ans)
	_, ok = r.Channel(3)
	assert.False(ok)
	assert.Equal([]uint16{0x0007}, r.State().ChannelsMask)

	ans = r.NewChannelReq(lorawan.NewChannelReqPayload{ChIndex: 0})
	assert.Equal(lorawan.NewChannelAnsPayload{}, ans)
}

func TestApplyCFList(t *testing.T) {
	cfList := func(typ byte, freqs ...uint32) []byte {
		b := make([]byte, 16)
		for i, f := range freqs {
			f /= 100
			b[i*3] = byte(f)
			b[i*3+1] = byte(f >> 8)
			b[i*3+2] = byte(f >> 16)
		}
		b[15] = typ
		return b
	}

	t.Run("frequency list", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		assert.NoError(r.ApplyCFList(cfList(0, 867100000, 867300000, 867500000, 867700000, 867900000)))
		for i, f := range []uint32{867100000, 867300000, 867500000, 867700000, 867900000} {
			c, ok := r.Channel(i + 3)
			assert.True(ok)
			assert.Equal(f, c.Frequency)
			assert.Equal(5, c.Band)
		}
		assert.Equal([]uint16{0x00ff}, r.State().ChannelsMask)
		assert.Equal([]uint16{0x0007}, r.State().ChannelsDefaultMask)
	})

	t.Run("zero frequency", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")

		assert.NoError(r.ApplyCFList(cfList(0, 867100000, 0, 867500000)))
		assert.Equal([]uint16{0x002f}, r.State().ChannelsMask)
	})

	t.Run("invalid type", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		assert.Equal(ErrCFList, errors.Cause(r.ApplyCFList(cfList(1, 867100000))))
	})

	t.Run("invalid size", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		assert.Equal(ErrCFList, errors.Cause(r.ApplyCFList(make([]byte, 15))))
	})

	t.Run("invalid frequency", func(t *testing.T) {
		assert := require.New(t)
		r := newTestRegion(t, "EU868")
		assert.Equal(ErrInvalidFrequency, errors.Cause(r.ApplyCFList(cfList(0, 915000000))))
	})
}

func TestRxParamSetupReq(t *testing.T) {
	tests := []struct {
		Name     string
		Payload  lorawan.RXParamSetupReqPayload
		Expected lorawan.RXParamSetupAnsPayload
	}{
		{
			Name:     "valid",
			Payload:  lorawan.RXParamSetupReqPayload{Frequency: 869525000, DLSettings: lorawan.DLSettings{RX2DataRate: 3, RX1DROffset: 2}},
			Expected: lorawan.RXParamSetupAnsPayload{ChannelACK: true, RX2DataRateACK: true, RX1DROffsetACK: true},
		},
		{
			Name:     "invalid frequency",
			Payload:  lorawan.RXParamSetupReqPayload{Frequency: 915000000, DLSettings: lorawan.DLSettings{RX2DataRate: 3}},
			Expected: lorawan.RXParamSetupAnsPayload{RX2DataRateACK: true, RX1DROffsetACK: true},
		},
		{
			Name:     "invalid data-rate and offset",
			Payload:  lorawan.RXParamSetupReqPayload{Frequency: 869525000, DLSettings: lorawan.DLSettings{RX2DataRate: 8, RX1DROffset: 6}},
			Expected: lorawan.RXParamSetupAnsPayload{ChannelACK: true},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			r := newTestRegion(t, "EU868")
			assert.Equal(tst.Expected, r.RxParamSetupReq(tst.Payload))
		})
	}
}

func TestDlChannelReq(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	freqOK, exists := r.DlChannelReq(0, 868300000)
	assert.True(freqOK)
	assert.True(exists)

	freqOK, exists = r.DlChannelReq(5, 868300000)
	assert.True(freqOK)
	assert.False(exists)

	freqOK, exists = r.DlChannelReq(1, 915000000)
	assert.False(freqOK)
	assert.True(exists)

	freq, _, err := r.RxConfig(RxConfigParams{Channel: 0, Datarate: 5})
	assert.NoError(err)
	assert.EqualValues(868300000, freq)

	freq, _, err = r.RxConfig(RxConfigParams{Channel: 1, Datarate: 5})
	assert.NoError(err)
	assert.EqualValues(868300000, freq)
}

func TestTxParamSetupReq(t *testing.T) {
	assert := require.New(t)
	assert.False(newTestRegion(t, "EU868").TxParamSetupReq(lorawan.TXParamSetupReqPayload{}))
	assert.True(newTestRegion(t, "AS923").TxParamSetupReq(lorawan.TXParamSetupReqPayload{}))
}

func TestComputeRxWindowParameters(t *testing.T) {
	tests := []struct {
		Name     string
		DR       uint8
		Expected RxWindowParams
	}{
		{
			Name: "SF12",
			DR:   0,
			Expected: RxWindowParams{
				Datarate:       0,
				Bandwidth:      125,
				SymbolTimeout:  6,
				WindowOffset:   32 * time.Millisecond,
				SymbolDuration: 32768 * time.Microsecond,
			},
		},
		{
			Name: "SF7",
			DR:   5,
			Expected: RxWindowParams{
				Datarate:       5,
				Bandwidth:      125,
				SymbolTimeout:  24,
				WindowOffset:   -9 * time.Millisecond,
				SymbolDuration: 1024 * time.Microsecond,
			},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			r := newTestRegion(t, "EU868")

			p, err := r.ComputeRxWindowParameters(tst.DR, 6, 10*time.Millisecond)
			assert.NoError(err)
			assert.Equal(tst.Expected, p)
		})
	}
}

func TestTxConfig(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	freq, conf, toa, err := r.TxConfig(TxConfigParams{
		Channel:     0,
		Datarate:    5,
		TxPower:     1,
		MaxEIRP:     16,
		AntennaGain: 2.15,
		PktLen:      16,
	})
	assert.NoError(err)
	assert.EqualValues(868100000, freq)
	assert.EqualValues(11, conf.Power)
	assert.Equal(7, conf.SpreadFactor)
	assert.Equal(125, conf.Bandwidth)
	assert.Equal(51456*time.Microsecond, toa)

	_, _, _, err = r.TxConfig(TxConfigParams{Channel: 5, Datarate: 5})
	assert.Equal(ErrInvalidChannel, err)
}

func TestRxConfigBeacon(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")
	bp := r.BeaconParams()

	freq, conf, err := r.RxConfig(RxConfigParams{Frequency: bp.Frequency, Datarate: bp.Datarate, SymbolTimeout: 8, Beacon: true})
	assert.NoError(err)
	assert.EqualValues(869525000, freq)
	assert.True(conf.FixLen)
	assert.EqualValues(17, conf.PayloadLen)
	assert.False(conf.IQInverted)
	assert.Equal(9, conf.SpreadFactor)
}

func TestApplyDrOffset(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	assert.EqualValues(3, r.ApplyDrOffset(5, 2, false))
	assert.EqualValues(0, r.ApplyDrOffset(1, 3, false))
	assert.EqualValues(5, r.ApplyDrOffset(5, 0, false))
}

func TestAlternateDr(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	assert.EqualValues(5, r.AlternateDr(5, 1))
	assert.EqualValues(4, r.AlternateDr(5, 8))
	assert.EqualValues(3, r.AlternateDr(5, 16))
	assert.EqualValues(0, r.AlternateDr(5, 48))

	assert.EqualValues(2, newTestRegion(t, "AS923").AlternateDr(5, 48))
}

func TestState(t *testing.T) {
	assert := require.New(t)
	r := newTestRegion(t, "EU868")

	assert.NoError(r.ChannelAdd(3, Channel{Frequency: 867100000, MaxDR: 5}))
	s := r.State()

	r2 := newTestRegion(t, "EU868")
	assert.NoError(r2.SetState(s))
	c, ok := r2.Channel(3)
	assert.True(ok)
	assert.EqualValues(867100000, c.Frequency)

	// the returned state is a copy
	s.Channels[3].Frequency = 0
	_, ok = r2.Channel(3)
	assert.True(ok)

	assert.Error(r2.SetState(State{}))
}
