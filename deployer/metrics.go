package deployer

import "github.com/prometheus/client_golang/prometheus"

var (
	heartbeatDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowkit",
		Subsystem: "deployer",
		Name:      "heartbeat_duration_seconds",
		Help:      "Heartbeat round trip latency by result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	connectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowkit",
		Subsystem: "deployer",
		Name:      "connect_attempts_total",
		Help:      "Number of init handshake attempts by result.",
	}, []string{"result"})

	exceptions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowkit",
		Subsystem: "deployer",
		Name:      "exceptions_total",
		Help:      "Number of remote nodes put into the exception state.",
	})

	processWaitTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowkit",
		Subsystem: "deployer",
		Name:      "process_wait_ticks_total",
		Help:      "Number of times a timed request outlived its poll interval.",
	})
)

func init() {
	prometheus.MustRegister(heartbeatDuration, connectAttempts, exceptions, processWaitTicks)
}
