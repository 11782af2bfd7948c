package network

import "github.com/prometheus/client_golang/prometheus"

var (
	portLeases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowkit",
		Subsystem: "network",
		Name:      "port_leases_total",
		Help:      "Number of port lease attempts by result.",
	}, []string{"result"})

	mainPortBinds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowkit",
		Subsystem: "network",
		Name:      "main_port_bind_attempts_total",
		Help:      "Number of main port segment bind attempts by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(portLeases, mainPortBinds)
}
