package ganache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts process starts and JSON-RPC traffic of ganache sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	processStarts prometheus.Counter
	startRetries  prometheus.Counter
	rpcRequests   *prometheus.CounterVec
	rpcErrors     *prometheus.CounterVec
}

// NewMetrics creates the ganache counters and registers them on reg. A nil reg returns nil.
// Counters already registered on reg are reused, so several sessions may share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		processStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ganache_process_starts_total",
			Help: "Number of ganache processes launched.",
		}),
		startRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ganache_process_start_retries_total",
			Help: "Number of ganache startups retried on another port.",
		}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ganache_rpc_requests_total",
			Help: "Number of JSON-RPC requests sent to ganache, by method.",
		}, []string{"method"}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ganache_rpc_errors_total",
			Help: "Number of JSON-RPC requests to ganache that failed, by method.",
		}, []string{"method"}),
	}

	var err error
	if m.processStarts, err = register(reg, m.processStarts); err != nil {
		return nil, err
	}
	if m.startRetries, err = register(reg, m.startRetries); err != nil {
		return nil, err
	}
	if m.rpcRequests, err = register(reg, m.rpcRequests); err != nil {
		return nil, err
	}
	if m.rpcErrors, err = register(reg, m.rpcErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) processStarted() {
	if m == nil {
		return
	}
	m.processStarts.Inc()
}

func (m *Metrics) startRetried() {
	if m == nil {
		return
	}
	m.startRetries.Inc()
}

func (m *Metrics) rpcRequest(method string, err error) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method).Inc()
	if err != nil {
		m.rpcErrors.WithLabelValues(method).Inc()
	}
}
