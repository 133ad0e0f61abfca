package peer

import (
	"net"
	"strconv"
)

// Endpoint is a remote peer's address: an IPv4 address and a port in
// 1-65535. Port 0 endpoints are discarded by callers before a Conn is ever
// built for them.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}
