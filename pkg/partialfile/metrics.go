package partialfile

import "github.com/prometheus/client_golang/prometheus"

var (
	sectorsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "partialfile",
		Name:      "sectors_submitted_total",
		Help:      "Number of sector write requests handed to the block layer.",
	})

	sectorWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "partialfile",
		Name:      "sector_write_errors_total",
		Help:      "Number of asynchronous sector write completions that reported failure.",
	})

	transferProgressPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "partialfile",
		Name:      "transfer_progress_percent",
		Help:      "Percentage of the most recently active transfer known to be valid.",
	})
)

func init() {
	prometheus.MustRegister(
		sectorsSubmittedTotal,
		sectorWriteErrorsTotal,
		transferProgressPercent)
}
