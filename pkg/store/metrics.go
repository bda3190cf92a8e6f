package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	docWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_store_doc_writes_total",
		Help: "Documents written, by namespace.",
	}, []string{"ns"})

	docReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_store_doc_reads_total",
		Help: "Document reads, by namespace.",
	}, []string{"ns"})

	revConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_store_rev_conflicts_total",
		Help: "Compare-and-swap updates rejected on rev mismatch, by namespace.",
	}, []string{"ns"})
)
