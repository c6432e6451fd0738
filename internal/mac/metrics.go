package mac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brocaar/chirpstack-device-mac/internal/models"
)

var (
	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_uplink_count",
		Help: "The number of uplink frames sent (per message type).",
	}, []string{"mtype"})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_downlink_count",
		Help: "The number of downlink frames accepted (per message type and receive window).",
	}, []string{"mtype", "rx_slot"})

	dec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_downlink_error_count",
		Help: "The number of dropped downlink frames (per reason).",
	}, []string{"reason"})

	rtc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mac_retransmission_count",
		Help: "The number of uplink retransmissions.",
	})

	wc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_rx_window_count",
		Help: "The number of opened receive windows (per window).",
	}, []string{"rx_slot"})

	ac = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_exchange_count",
		Help: "The number of finished uplink exchanges (per acknowledgement state).",
	}, []string{"ack"})
)

func uplinkCounter(mType string) prometheus.Counter {
	return uc.With(prometheus.Labels{"mtype": mType})
}

func downlinkCounter(mType string, slot models.RxSlot) prometheus.Counter {
	return dc.With(prometheus.Labels{"mtype": mType, "rx_slot": slot.String()})
}

func downlinkErrorCounter(reason string) prometheus.Counter {
	return dec.With(prometheus.Labels{"reason": reason})
}

func rxWindowCounter(slot models.RxSlot) prometheus.Counter {
	return wc.With(prometheus.Labels{"rx_slot": slot.String()})
}

func exchangeCounter(ack string) prometheus.Counter {
	return ac.With(prometheus.Labels{"ack": ack})
}
