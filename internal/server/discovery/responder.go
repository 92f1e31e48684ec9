// Package discovery answers LAN broadcast probes with the hub's address, so
// clients can locate it without prior configuration. Requesters are not
// authenticated; the mechanism relies on LAN-local trust.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/netx"
)

const (
	// RequestToken is the literal probe clients broadcast.
	RequestToken = "QM_DISCOVERY_REQUEST"
	// ResponsePrefix starts every reply; the full form is
	// prefix:hostname:ipv4.
	ResponsePrefix = "QM_DISCOVERY_RESPONSE"
)

type Responder struct {
	port   int
	logger logging.Logger
	conn   *net.UDPConn
}

func NewResponder(port int, logger logging.Logger) *Responder {
	return &Responder{port: port, logger: logger.With("module", "discovery")}
}

// Listen binds the UDP socket. A bind failure (typically the port already
// being in use) is returned to the caller, which treats discovery as a
// degraded subsystem rather than a fatal condition.
func (r *Responder) Listen() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: r.port})
	if err != nil {
		return fmt.Errorf("bind discovery port %d: %w", r.port, err)
	}
	r.conn = conn
	return nil
}

// Addr returns the bound address. Valid only after Listen succeeds.
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve answers probes until ctx is cancelled.
func (r *Responder) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	r.logger.Info(ctx, "discovery responder listening", "addr", r.conn.LocalAddr().String())

	buf := make([]byte, 1024)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}

		if strings.TrimSpace(string(buf[:n])) != RequestToken {
			continue
		}

		reply := Response()
		if _, err := r.conn.WriteToUDP([]byte(reply), remote); err != nil {
			r.logger.Warn(ctx, "discovery reply failed", "remote", remote.String(), "error", err)
			continue
		}
		r.logger.Debug(ctx, "answered discovery probe", "remote", remote.String())
	}
}

// Response builds the reply announcing this host.
func Response() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s", ResponsePrefix, hostname, netx.LocalIPv4())
}

// ParseResponse splits a discovery reply into hostname and address. Used by
// the client connector.
func ParseResponse(msg string) (hostname, ip string, ok bool) {
	if !strings.HasPrefix(msg, ResponsePrefix+":") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(msg, ResponsePrefix+":"), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
