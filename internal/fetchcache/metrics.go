package fetchcache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rembgd",
		Subsystem: "fetchcache",
		Name:      "hits_total",
		Help:      "Artifact requests served from the memory cache",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rembgd",
		Subsystem: "fetchcache",
		Name:      "misses_total",
		Help:      "Artifact requests that went to the network",
	})

	coalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rembgd",
		Subsystem: "fetchcache",
		Name:      "coalesced_total",
		Help:      "Artifact requests attached to an already in-flight fetch",
	})

	bytesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rembgd",
		Subsystem: "fetchcache",
		Name:      "fetched_bytes_total",
		Help:      "Total artifact bytes downloaded over the network",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, coalesced, bytesFetched)
}
