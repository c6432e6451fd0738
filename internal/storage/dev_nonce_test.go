package storage

import (
	"context"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
)

func (ts *StorageTestSuite) TestDevNonce() {
	assert := require.New(ts.T())
	ctx := context.Background()
	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}

	_, err := GetLastDevNonce(ctx, devEUI)
	assert.Equal(ErrDoesNotExist, err)

	for _, n := range []uint16{1, 5, 3} {
		assert.NoError(AddDevNonce(ctx, devEUI, n))
	}

	last, err := GetLastDevNonce(ctx, devEUI)
	assert.NoError(err)
	assert.EqualValues(5, last)

	used, err := IsDevNonceUsed(ctx, devEUI, 3)
	assert.NoError(err)
	assert.True(used)

	used, err = IsDevNonceUsed(ctx, devEUI, 4)
	assert.NoError(err)
	assert.False(used)
}
