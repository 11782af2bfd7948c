package network

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/moby/flowkit/errdefs"
)

const (
	// MinPort is the lowest port a range may contain.
	MinPort = 1024
	// MaxPort is the highest port a range may contain.
	MaxPort = 65535

	rangeSeparator = "~"
)

// PortRange is an inclusive range of ports.
type PortRange struct {
	Start int
	End   int
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d%s%d", r.Start, rangeSeparator, r.End)
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	return r.End - r.Start + 1
}

// ParsePortRange validates and parses a "start~end" range string. Every
// failure is a ParamInvalid error.
func ParsePortRange(s string) (PortRange, error) {
	normalized := strings.TrimSpace(s)
	if normalized == "" {
		return PortRange{}, errdefs.ParamInvalid("port range is empty")
	}

	parts := strings.Split(normalized, rangeSeparator)
	if len(parts) != 2 {
		return PortRange{}, errdefs.ParamInvalid("port range %q must be two ports separated by %q", s, rangeSeparator)
	}
	lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if lo == "" || hi == "" {
		return PortRange{}, errdefs.ParamInvalid("port range %q is missing a bound", s)
	}

	start, end, err := nat.ParsePortRange(lo + "-" + hi)
	if err != nil {
		return PortRange{}, errdefs.ParamInvalid("port range %q: %v", s, err)
	}
	if start < MinPort || end > MaxPort {
		return PortRange{}, errdefs.ParamInvalid("port range %q must lie within [%d, %d]", s, MinPort, MaxPort)
	}

	return PortRange{Start: int(start), End: int(end)}, nil
}
