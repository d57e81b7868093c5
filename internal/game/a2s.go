// Package game queries the game server with the Source Engine Query (A2S)
// protocol and feeds the results into the server state.
package game

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/outpost/internal/config"
)

// QueryFunc requests A2S_INFO from ip:port.
type QueryFunc func(ip string, port int) (*a2s.Info, error)

// NewQuery returns a QueryFunc using the buffer size and timeout from options.
func NewQuery(options config.A2S) QueryFunc {
	return func(ip string, port int) (*a2s.Info, error) {
		return QueryServer(ip, port, options.Timeout, options.BufferSize)
	}
}

// QueryServer connects to a game server via UDP and requests A2S_INFO.
// Every call uses a fresh client; the socket is closed before returning.
func QueryServer(ip string, port int, timeout time.Duration, bufferSize uint16) (*a2s.Info, error) {
	client, err := a2s.New(ip, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = bufferSize
	client.Timeout = timeout

	return client.GetInfo()
}

// SplitAddress parses a host:port query address.
func SplitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("a2s address %q: %w", address, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("a2s address %q: empty host", address)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("a2s address %q: invalid port", address)
	}

	return host, port, nil
}

// resolve returns host unchanged if it is an IP literal, otherwise its first address.
func resolve(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}

	return addrs[0], nil
}
