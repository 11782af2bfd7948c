package network

import (
	"net"
	"sync"

	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/moby/flowkit/xnet"
	"github.com/sirupsen/logrus"
)

// SegmentSize is the number of ports reserved behind a bound main port.
const SegmentSize = 128

// Manager binds and remembers the node's main listening port.
type Manager struct {
	mu     sync.Mutex
	listen func(proto, addr string) (net.Listener, error)

	ip       string
	mainPort int32
	bound    bool
}

// NewManager returns a manager that probes ports with real binds.
func NewManager() *Manager {
	return &Manager{listen: xnet.Listen}
}

// BindMainPort scans portRange in segments of SegmentSize and returns the
// first segment start that ip can bind. The result is cached; later calls
// return it without probing. A malformed range, or a range in which no
// segment can be bound, fails with Failed.
func (m *Manager) BindMainPort(ip, portRange string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bound {
		return m.mainPort, nil
	}

	rng, err := ParsePortRange(portRange)
	if err != nil {
		return 0, errdefs.Failed("main port range: %v", err)
	}

	logger := log.L.WithFields(logrus.Fields{"ip": ip, "range": rng.String()})
	for port := rng.Start; port <= rng.End; port += SegmentSize {
		if err := m.probe(ip, int32(port)); err != nil {
			mainPortBinds.WithLabelValues("busy").Inc()
			logger.WithError(err).Debugf("port segment %d unavailable", port)
			continue
		}
		mainPortBinds.WithLabelValues("ok").Inc()
		m.ip, m.mainPort, m.bound = ip, int32(port), true
		logger.Infof("bound main port %d", port)
		return m.mainPort, nil
	}

	return 0, errdefs.Failed("no port segment in %s can be bound on %s", rng, ip)
}

func (m *Manager) probe(ip string, port int32) error {
	l, err := m.listen("tcp", xnet.HostPort(ip, port))
	if err != nil {
		return err
	}
	return l.Close()
}

// DataPort returns the bound main port, if any.
func (m *Manager) DataPort() (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mainPort, m.bound
}

// DataIP returns the IP the main port was bound on.
func (m *Manager) DataIP() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ip
}

// Finalize forgets the cached main port.
func (m *Manager) Finalize() {
	m.mu.Lock()
	m.ip, m.mainPort, m.bound = "", 0, false
	m.mu.Unlock()
}
