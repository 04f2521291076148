package ingest

import "github.com/prometheus/client_golang/prometheus"

const namespace = "kafkascope"

var (
	metricRecordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "total number of decoded records emitted by consume_next and stream_filtered",
		},
		[]string{"path"}, // "consume_next" | "stream_filtered"
	)

	metricDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "total number of records that failed payload decoding",
		},
		[]string{"codec"},
	)

	metricPlansRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_run_total",
			Help:      "total number of times the assignment planner ran",
		},
	)
)

// registerMetrics registers the package's collectors against reg,
// tolerating AlreadyRegisteredError so multiple ReaderEngine instances
// sharing one registry (or re-registering the same default registry
// across test cases) don't panic.
func registerMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{metricRecordsEmitted, metricDecodeErrors, metricPlansRun} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
