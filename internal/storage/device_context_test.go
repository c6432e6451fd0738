package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-mac/internal/band"
	"github.com/brocaar/chirpstack-device-mac/internal/mac"
	"github.com/brocaar/chirpstack-device-mac/internal/models"
	"github.com/brocaar/lorawan"
)

func (ts *StorageTestSuite) TestDeviceContext() {
	assert := require.New(ts.T())
	ctx := context.Background()
	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}

	r, err := band.New("EU868", false, false)
	assert.NoError(err)

	ts.T().Run("does not exist", func(t *testing.T) {
		assert := require.New(t)

		_, err := GetDeviceContext(ctx, devEUI)
		assert.Equal(ErrDoesNotExist, err)
		assert.Equal(ErrDoesNotExist, DeleteDeviceContext(ctx, devEUI))
	})

	ts.T().Run("save and get", func(t *testing.T) {
		assert := require.New(t)

		mc := mac.NewContext(r, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		mc.Activation = models.ActivationOTAA
		mc.DevAddr = lorawan.DevAddr{1, 2, 3, 4}
		mc.NetID = lorawan.NetID{1, 2, 3}
		mc.Security.FCntList.FCntUp = 10
		mc.Security.DevNonce = 3

		dc := DeviceContext{
			DevEUI:   devEUI,
			MAC:      mc,
			KeyStore: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		}
		assert.NoError(SaveDeviceContext(ctx, dc))

		out, err := GetDeviceContext(ctx, devEUI)
		assert.NoError(err)
		assert.Equal(dc.DevEUI, out.DevEUI)
		assert.Equal(dc.KeyStore, out.KeyStore)
		assert.Equal(mc.Activation, out.MAC.Activation)
		assert.Equal(mc.DevAddr, out.MAC.DevAddr)
		assert.Equal(mc.NetID, out.MAC.NetID)
		assert.Equal(mc.Security, out.MAC.Security)
		assert.Equal(mc.Params, out.MAC.Params)
		assert.Equal(mc.Region.Channels, out.MAC.Region.Channels)
		assert.True(mc.InitializationTime.Equal(out.MAC.InitializationTime))
	})

	ts.T().Run("delete", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(DeleteDeviceContext(ctx, devEUI))
		_, err := GetDeviceContext(ctx, devEUI)
		assert.Equal(ErrDoesNotExist, err)
	})
}
