package mac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/lorawan"
)

func TestMibSetGet(t *testing.T) {
	tests := []struct {
		Name        string
		Param       models.MibParam
		ExpectedErr error
	}{
		{
			Name:  "adr",
			Param: models.MibParam{Type: models.MibAdrEnable, Value: false},
		},
		{
			Name:  "nb trans",
			Param: models.MibParam{Type: models.MibChannelsNbTrans, Value: uint8(3)},
		},
		{
			Name:        "nb trans out of range",
			Param:       models.MibParam{Type: models.MibChannelsNbTrans, Value: uint8(0)},
			ExpectedErr: models.StatusParameterInvalid,
		},
		{
			Name:  "datarate",
			Param: models.MibParam{Type: models.MibChannelsDatarate, Value: uint8(5)},
		},
		{
			Name:        "invalid datarate",
			Param:       models.MibParam{Type: models.MibChannelsDatarate, Value: uint8(9)},
			ExpectedErr: models.StatusParameterInvalid,
		},
		{
			Name:  "tx power",
			Param: models.MibParam{Type: models.MibChannelsTxPower, Value: int8(2)},
		},
		{
			Name:  "receive delay 1",
			Param: models.MibParam{Type: models.MibReceiveDelay1, Value: 2 * time.Second},
		},
		{
			Name:        "receive delay of the wrong type",
			Param:       models.MibParam{Type: models.MibReceiveDelay1, Value: 2},
			ExpectedErr: models.StatusParameterInvalid,
		},
		{
			Name:  "rx2 channel",
			Param: models.MibParam{Type: models.MibRx2Channel, Value: band.RxChannelParams{Frequency: 869525000, Datarate: 3}},
		},
		{
			Name:        "rx2 channel out of band",
			Param:       models.MibParam{Type: models.MibRx2Channel, Value: band.RxChannelParams{Frequency: 915000000, Datarate: 3}},
			ExpectedErr: models.StatusParameterInvalid,
		},
		{
			Name:  "antenna gain",
			Param: models.MibParam{Type: models.MibAntennaGain, Value: float32(1.5)},
		},
		{
			Name:  "adr ack limit",
			Param: models.MibParam{Type: models.MibAdrAckLimit, Value: uint16(32)},
		},
		{
			Name:  "dev addr",
			Param: models.MibParam{Type: models.MibDevAddr, Value: lorawan.DevAddr{1, 2, 3, 4}},
		},
		{
			Name:  "dev eui",
			Param: models.MibParam{Type: models.MibDevEUI, Value: lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}},
		},
		{
			Name:  "beacon window slots",
			Param: models.MibParam{Type: models.MibBeaconWindowSlots, Value: uint16(128)},
		},
		{
			Name:  "beacon interval",
			Param: models.MibParam{Type: models.MibBeaconInterval, Value: 64 * time.Second},
		},
		{
			Name:  "ping-slot datarate",
			Param: models.MibParam{Type: models.MibPingSlotDatarate, Value: uint8(4)},
		},
		{
			Name:  "rejoin params",
			Param: models.MibParam{Type: models.MibRejoinParams, Value: RejoinParams{MaxTimeN: 2, MaxCountN: 3}},
		},
		{
			Name:        "read-only",
			Param:       models.MibParam{Type: models.MibIsNetworkJoined, Value: true},
			ExpectedErr: models.StatusParameterInvalid,
		},
		{
			Name:        "otaa can not be set",
			Param:       models.MibParam{Type: models.MibNetworkActivation, Value: models.ActivationOTAA},
			ExpectedErr: models.StatusParameterInvalid,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			env := newTestEnv(t)

			err := env.mac.MibSet(tst.Param)
			assert.Equal(tst.ExpectedErr, err)
			if err != nil {
				return
			}

			p, err := env.mac.MibGet(tst.Param.Type)
			assert.NoError(err)
			assert.Equal(tst.Param, p)
		})
	}
}

func TestMibKeys(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t)

	assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibAppKey, Value: testNwkKey}))
	assert.Equal(models.StatusParameterInvalid, env.mac.MibSet(models.MibParam{Type: models.MibAppKey, Value: []byte{1, 2, 3}}))

	_, err := env.mac.MibGet(models.MibAppKey)
	assert.Equal(models.StatusParameterInvalid, err)
}

func TestMibChannelsMask(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t)

	p, err := env.mac.MibGet(models.MibChannelsMask)
	assert.NoError(err)
	assert.Equal([]uint16{0x0007}, p.Value)

	assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibChannelsMask, Value: []uint16{0x0001}}))
	p, err = env.mac.MibGet(models.MibChannelsMask)
	assert.NoError(err)
	assert.Equal([]uint16{0x0001}, p.Value)

	p, err = env.mac.MibGet(models.MibChannelsDefaultMask)
	assert.NoError(err)
	assert.Equal([]uint16{0x0007}, p.Value)
}

func TestMibDeviceClass(t *testing.T) {
	t.Run("class c", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibDeviceClass, Value: models.ClassC}))
		rx := env.radio.Receives()
		assert.Len(rx, 1)
		assert.Equal(testRx2Freq, rx[0].Frequency)
		assert.Equal(time.Duration(0), rx[0].Timeout)
		assert.True(rx[0].Config.RxContinuous)

		// a lorawan 1.0 device does not send a DeviceModeInd
		assert.Len(env.mac.buffer.Commands(), 0)

		assert.Equal(models.StatusParameterInvalid, env.mac.MibSet(models.MibParam{Type: models.MibDeviceClass, Value: models.ClassB}))

		assert.NoError(env.mac.MibSet(models.MibParam{Type: models.MibDeviceClass, Value: models.ClassA}))
		assert.Equal(models.RxSlotNone, env.mac.rxSlot)

		p, err := env.mac.MibGet(models.MibDeviceClass)
		assert.NoError(err)
		assert.Equal(models.ClassA, p.Value)
	})

	t.Run("class b requires a beacon", func(t *testing.T) {
		assert := require.New(t)
		env := newTestEnv(t)
		env.activateABP(t)

		assert.Equal(models.StatusClassBError, env.mac.MibSet(models.MibParam{Type: models.MibDeviceClass, Value: models.ClassB}))
	})
}
