package classb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bsc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classb_beacon_state_count",
		Help: "The number of beacon state transitions (per state).",
	}, []string{"state"})

	psc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classb_slot_open_count",
		Help: "The number of opened receive slots (per slot type).",
	}, []string{"slot"})
)

func beaconStateCounter(s BeaconState) prometheus.Counter {
	return bsc.With(prometheus.Labels{"state": s.String()})
}

func slotOpenCounter(s string) prometheus.Counter {
	return psc.With(prometheus.Labels{"slot": s})
}
