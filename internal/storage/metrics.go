package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	readOps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storage",
		Name:      "reads_total",
		Help:      "Successful point reads against the key-value store.",
	})

	writeOps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storage",
		Name:      "writes_total",
		Help:      "Individual put/delete operations, including batched ones.",
	})

	batchCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storage",
		Name:      "batch_commits_total",
		Help:      "Atomic batch commits against the key-value store.",
	})
)

func init() {
	prometheus.MustRegister(readOps, writeOps, batchCommits)
}
