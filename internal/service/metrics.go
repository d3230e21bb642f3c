package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the upload counters exported by the post service.
type Metrics struct {
	postsCreated   prometheus.Counter
	bytesIngested  prometheus.Counter
	ingestFailures prometheus.Counter
	mirrorFailures prometheus.Counter
}

// NewMetrics registers the service counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paste_posts_created_total",
			Help: "Total number of posts stored successfully.",
		}),
		bytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paste_bytes_ingested_total",
			Help: "Total number of payload bytes persisted.",
		}),
		ingestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paste_ingest_failures_total",
			Help: "Total number of uploads aborted by an allocation or I/O error.",
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paste_mirror_failures_total",
			Help: "Total number of posts that could not be copied to the object store mirror.",
		}),
	}

	for _, c := range []prometheus.Collector{m.postsCreated, m.bytesIngested, m.ingestFailures, m.mirrorFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
