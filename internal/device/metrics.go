package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brocaar/chirpstack-device-mac/internal/models"
)

var (
	jc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_join_count",
		Help: "The number of completed join procedures (per status).",
	}, []string{"status"})

	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_uplink_count",
		Help: "The number of confirmed data requests (per status).",
	}, []string{"status"})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_downlink_count",
		Help: "The number of data indications (per status).",
	}, []string{"status"})
)

func joinCounter(s models.EventInfoStatus) prometheus.Counter {
	return jc.With(prometheus.Labels{"status": s.String()})
}

func uplinkCounter(s models.EventInfoStatus) prometheus.Counter {
	return uc.With(prometheus.Labels{"status": s.String()})
}

func downlinkCounter(s models.EventInfoStatus) prometheus.Counter {
	return dc.With(prometheus.Labels{"status": s.String()})
}
