package network

import (
	"sync"

	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/sirupsen/logrus"
)

type portLease struct {
	rng  PortRange
	last int
}

// PortDistributor leases data plane ports per IP. It is safe for concurrent
// use; one instance is shared by every deployer of a process.
type PortDistributor struct {
	mu     sync.Mutex
	leases map[string]*portLease
}

// NewPortDistributor returns a distributor with no leases.
func NewPortDistributor() *PortDistributor {
	return &PortDistributor{
		leases: make(map[string]*portLease),
	}
}

// AllocatePort leases the next port for ip out of portRange. The range is
// recorded with the first lease for an IP; later calls for the same IP keep
// using it. Once the upper bound has been leased every further call fails
// with ParamInvalid.
func (d *PortDistributor) AllocatePort(ip, portRange string) (int32, error) {
	rng, err := ParsePortRange(portRange)
	if err != nil {
		portLeases.WithLabelValues("invalid").Inc()
		return 0, err
	}

	d.mu.Lock()
	lease, ok := d.leases[ip]
	if !ok {
		lease = &portLease{rng: rng, last: rng.Start - 1}
		d.leases[ip] = lease
	}
	if lease.last >= lease.rng.End {
		d.mu.Unlock()
		portLeases.WithLabelValues("exhausted").Inc()
		log.L.WithFields(logrus.Fields{
			"ip":    ip,
			"range": lease.rng.String(),
		}).Warn("port range exhausted")
		return 0, errdefs.ParamInvalid("port range %s of ip %s is exhausted", lease.rng, ip)
	}
	lease.last++
	port := lease.last
	d.mu.Unlock()

	portLeases.WithLabelValues("ok").Inc()
	return int32(port), nil
}

// Finalize drops every lease. The next allocation for any IP starts at the
// lower bound of its range again.
func (d *PortDistributor) Finalize() {
	d.mu.Lock()
	d.leases = make(map[string]*portLease)
	d.mu.Unlock()
}
