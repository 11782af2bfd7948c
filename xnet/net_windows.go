//go:build windows
// +build windows

package xnet

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// Listen wraps net.Listen and Windows named pipes.
func Listen(proto string, addr string) (net.Listener, error) {
	if proto == "npipe" {
		return winio.ListenPipe(addr, nil)
	}
	return net.Listen(proto, addr)
}

// DialTimeout wraps net.DialTimeout and Windows named pipes (winio.DialPipe).
func DialTimeout(proto string, addr string, timeout time.Duration) (net.Conn, error) {
	if proto == "npipe" {
		return winio.DialPipe(addr, &timeout)
	}
	return net.DialTimeout(proto, addr, timeout)
}
