package authority

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type stateMetrics struct {
	txExecuted        prometheus.Counter
	batchesSealed     prometheus.Counter
	checkpointsSigned prometheus.Counter
	postProcessed     *prometheus.CounterVec
	nextSequence      prometheus.Gauge
}

// newStateMetrics 在 registry 上注册账本指标；registry 为 nil 时指标不导出
func newStateMetrics(registry prometheus.Registerer) (m *stateMetrics, err error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	defer func() {
		// promauto 在重复注册时 panic
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.New("register authority metrics")
		}
	}()

	factory := promauto.With(registry)
	return &stateMetrics{
		txExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_transactions_executed_total",
			Help: "Number of transactions executed by this node.",
		}),
		batchesSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_sealed_total",
			Help: "Number of execution batches sealed.",
		}),
		checkpointsSigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_checkpoints_signed_total",
			Help: "Number of checkpoint fragments signed by this validator.",
		}),
		postProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_post_processed_total",
			Help: "Number of executed transactions handed to each post-processing sink.",
		}, []string{"sink"}),
		nextSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_next_sequence",
			Help: "Next execution sequence number.",
		}),
	}, nil
}
