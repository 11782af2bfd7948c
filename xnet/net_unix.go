//go:build !windows
// +build !windows

package xnet

import (
	"net"
	"time"
)

// Listen wraps net.Listen.
func Listen(proto string, addr string) (net.Listener, error) {
	return net.Listen(proto, addr)
}

// DialTimeout wraps net.DialTimeout.
func DialTimeout(proto string, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(proto, addr, timeout)
}
