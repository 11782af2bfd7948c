package xnet

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ParseProtoAddr parses an address as a protocol and address pair.
// If no protocol is specified, this function returns an error.
func ParseProtoAddr(s string) (string, string, error) {
	logrus.Debugf("parse proto addr: %s", s)
	parts := strings.SplitN(s, "://", 2)
	if len(parts) == 1 {
		return "", "", fmt.Errorf("no protocol is specified in '%s'", s)
	}
	return parts[0], parts[1], nil
}

// ParseAddr is like ParseProtoAddr but treats an address without a
// protocol as tcp.
func ParseAddr(s string) (string, string) {
	if proto, addr, err := ParseProtoAddr(s); err == nil {
		return proto, addr
	}
	return "tcp", s
}

// HostPort joins an ip and a port into a dialable tcp address.
func HostPort(ip string, port int32) string {
	return net.JoinHostPort(ip, strconv.Itoa(int(port)))
}
