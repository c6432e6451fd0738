package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/storage"
)

func TestServeMux(t *testing.T) {
	var c config.Config
	c.Redis.Servers = []string{"localhost:1"}
	c.Monitoring.PrometheusEndpoint = true
	c.Monitoring.HealthcheckEndpoint = true
	require.NoError(t, storage.Setup(c))
	defer storage.Close()

	tests := []struct {
		Name           string
		Path           string
		ExpectedStatus int
	}{
		{Name: "metrics", Path: "/metrics", ExpectedStatus: http.StatusOK},
		{Name: "health without redis", Path: "/health", ExpectedStatus: http.StatusServiceUnavailable},
		{Name: "unknown path", Path: "/foo", ExpectedStatus: http.StatusNotFound},
	}

	mux := newServeMux(c)

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tst.Path, nil))
			assert.Equal(tst.ExpectedStatus, rec.Code)
		})
	}
}
