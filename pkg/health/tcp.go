package health

import (
	"context"
	"net"
	"net/url"
	"time"
)

// TCPChecker tells an unreachable host apart from a service that answers
// with an error
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker for host:port
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

// NewTCPCheckerForURL dials the host of a service URL, using the scheme's
// default port when none is given
func NewTCPCheckerForURL(endpoint string) (*TCPChecker, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return NewTCPChecker(net.JoinHostPort(u.Hostname(), port)), nil
}

// Type returns the check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Check dials the address
func (t *TCPChecker) Check(ctx context.Context) Result {
	r := newResult()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return r.fail("connection to %s failed: %v", t.Address, err)
	}
	conn.Close()
	return r.ok("port %s open", t.Address)
}
