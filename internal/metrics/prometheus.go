package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(PollTotal)
	prometheus.MustRegister(PollLastSuccess)
	prometheus.MustRegister(ChannelValue)
	prometheus.MustRegister(ThingOnline)
}

var (
	PollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hab_poll_total",
			Help: "Number of poll runs by poller and result.",
		},
		[]string{
			"poller",
			"result",
		},
	)
	PollLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hab_poll_last_success_timestamp",
			Help: "Unix time of the last successful poll.",
		},
		[]string{
			"poller",
		},
	)
	ChannelValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hab_channel_value",
			Help: "Last numeric state published on a channel.",
		},
		[]string{
			"thing",
			"channel",
		},
	)
	ThingOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hab_thing_online",
			Help: "1 when the thing is ONLINE, 0 otherwise.",
		},
		[]string{
			"thing",
		},
	)
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
