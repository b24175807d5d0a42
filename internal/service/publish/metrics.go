package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"uk.co.dudmesh.herald/internal/model"
)

const outcomeSuccess = "success"

var (
	channelPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "channel_publish_total",
		Help:      "Channel publish attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	channelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "herald",
		Name:      "channel_publish_duration_seconds",
		Help:      "Time spent publishing to a channel.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"channel"})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "dispatch_total",
		Help:      "Dispatched drafts by resulting status.",
	}, []string{"status"})
)

func outcome(result model.PublishResult) string {
	if result.Success {
		return outcomeSuccess
	}
	return string(result.ErrorKind)
}

func observe(result model.PublishResult) {
	channelPublishes.WithLabelValues(string(result.Channel), outcome(result)).Inc()
	channelDuration.WithLabelValues(string(result.Channel)).Observe(float64(result.DurationMS) / 1000)
}
