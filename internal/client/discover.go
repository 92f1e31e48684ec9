// Package client is the hub-side connector used by QuickMessenger clients:
// LAN discovery of a running hub, the encrypted WebSocket session, and typed
// send operations for the chat protocol.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/seitanmen/QuickMessenger/internal/server/discovery"
)

const discoverTimeout = 5 * time.Second

// Hub is a discovered hub instance.
type Hub struct {
	Hostname string
	IP       string
}

// Discover broadcasts a discovery probe on the LAN and collects every hub
// that answers within the timeout. An empty result is not an error.
func Discover(ctx context.Context, port int) ([]Hub, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery socket: %w", err)
	}
	defer conn.Close()

	bcast := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	if _, err := conn.WriteToUDP([]byte(discovery.RequestToken), bcast); err != nil {
		return nil, fmt.Errorf("discovery probe: %w", err)
	}

	deadline := time.Now().Add(discoverTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var hubs []Hub
	seen := make(map[string]struct{})
	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return hubs, nil
			}
			return hubs, err
		}

		hostname, ip, ok := discovery.ParseResponse(string(buf[:n]))
		if !ok {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		hubs = append(hubs, Hub{Hostname: hostname, IP: ip})
	}
}
