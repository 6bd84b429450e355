package nfs

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// DefaultPort is tried first when no port is requested.
	DefaultPort = 12049
	// PortRangeStart and PortRangeEnd bound automatic selection.
	PortRangeStart = 12050
	PortRangeEnd   = 12099
)

// PortProbe reports whether a TCP port can be bound.
type PortProbe func(port int) bool

// TCPProbe binds 0.0.0.0:port and releases it.
func TCPProbe(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// SelectPort returns requested when non-zero and free, else the default
// port, else the first free port in the automatic range.
func SelectPort(requested int, probe PortProbe) (int, error) {
	if probe == nil {
		probe = TCPProbe
	}
	if requested != 0 {
		if !probe(requested) {
			return 0, fmt.Errorf("port %d is not available", requested)
		}
		return requested, nil
	}
	if probe(DefaultPort) {
		return DefaultPort, nil
	}
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		if probe(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available ports in range %d-%d for NFS server", PortRangeStart, PortRangeEnd)
}
