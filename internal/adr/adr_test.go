package adr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetHandler(t *testing.T) {
	t.Run("Default handler", func(t *testing.T) {
		assert := require.New(t)

		h, err := GetHandler("default")
		assert.NoError(err)
		assert.IsType(&DefaultHandler{}, h)
	})

	t.Run("Unknown handler", func(t *testing.T) {
		assert := require.New(t)

		_, err := GetHandler("unknown")
		assert.Equal(ErrHandlerNotFound, err)
	})

	t.Run("Handlers", func(t *testing.T) {
		assert := require.New(t)

		h, err := GetHandlers()
		assert.NoError(err)
		assert.Equal("Default end-device ADR back-off", h["default"])
	})

	t.Run("No plugins", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(Setup(nil))
		Teardown()
	})
}
