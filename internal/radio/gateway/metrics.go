package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_gateway_uplink_count",
		Help: "The number of uplink frames published by the virtual gateway.",
	})

	dc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_gateway_downlink_count",
		Help: "The number of downlink frames received by the virtual gateway.",
	})

	dec = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_gateway_downlink_expired_count",
		Help: "The number of downlink frames dropped because no receive window matched.",
	})
)

func uplinkCounter() prometheus.Counter {
	return uc
}

func downlinkCounter() prometheus.Counter {
	return dc
}

func downlinkExpiredCounter() prometheus.Counter {
	return dec
}
