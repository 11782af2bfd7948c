// Package network allocates the ports a node's data plane listens on.
//
// Two allocators exist. The Manager binds the node's own main listening port
// by probing the configured range in segments of 128 ports; the first segment
// start that can be bound wins and is kept for the lifetime of the process.
// CPU devices with the port preemption policy use that port.
//
// The PortDistributor leases ports for every other device. Leases are tracked
// per IP: the first lease for an IP returns the lower bound of the range and
// every following lease returns one more than the last, until the upper bound
// has been handed out. The distributor never reclaims individual ports;
// Finalize resets all lease state at once.
//
// Port ranges are written "start~end" with both ends inside [1024, 65535].
package network
