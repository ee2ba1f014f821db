package replication

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	modeGossip   = "gossip"
	modeNodeSync = "node_sync"
)

type replicationMetrics struct {
	batches      *prometheus.CounterVec
	transactions *prometheus.CounterVec
	errors       *prometheus.CounterVec
}

func newReplicationMetrics(registry prometheus.Registerer) (m *replicationMetrics, err error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.New("register replication metrics")
		}
	}()

	labels := []string{"peer", "mode"}
	factory := promauto.With(registry)
	return &replicationMetrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_replication_batches_total",
			Help: "Batches followed from each peer.",
		}, labels),
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_replication_transactions_total",
			Help: "Transactions fetched from each peer and applied locally.",
		}, labels),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_replication_errors_total",
			Help: "Failed synchronisation rounds per peer.",
		}, labels),
	}, nil
}
