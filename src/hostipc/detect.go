package hostipc

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"
)

const (
	hostAddr     = "127.0.0.1"
	pingRequest  = "PING\n"
	pongResponse = "PONG\n"
)

// DetectHostPort scans the port range and returns (port, true) if a host responds to PING.
func DetectHostPort(ctx context.Context, ports PortRange) (int, bool) {
	deadline := 300 * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < deadline {
			deadline = d
		}
	}
	ports = ports.normalized()
	for port := ports.Start; port <= ports.End; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		addr := net.JoinHostPort(hostAddr, strconv.Itoa(port))
		if ping(addr, deadline) {
			return port, true
		}
	}
	return 0, false
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(pingRequest); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	br := bufio.NewReader(conn)
	resp, err := br.ReadString('\n')
	return err == nil && resp == pongResponse
}
