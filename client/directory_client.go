package client

import (
	"fmt"
	"net"
	"strconv"

	"github.com/maida-ai/xcp/directory"
)

// ConnectViaAgent resolves agent through dir, narrows the candidates to
// the ones that advertise kind (skipped when kind is ""), picks one
// with bal, and runs the normal Connect handshake against its address.
// This is the multi-peer entry point: Connect itself only ever dials a
// single, already-known host:port.
func ConnectViaAgent(dir directory.Directory, bal directory.Balancer, agent, kind string, opts ...Option) (*Client, error) {
	instances, err := dir.Discover(agent)
	if err != nil {
		return nil, fmt.Errorf("client: discover %q: %w", agent, err)
	}

	candidates := directory.FilterByKind(instances, kind)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("client: no instance of %q accepts kind %q", agent, kind)
	}

	inst, err := bal.Pick(candidates)
	if err != nil {
		return nil, fmt.Errorf("client: pick instance of %q: %w", agent, err)
	}

	host, portStr, err := net.SplitHostPort(inst.Addr)
	if err != nil {
		return nil, fmt.Errorf("client: peer address %q: %w", inst.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("client: peer port %q: %w", portStr, err)
	}

	return Connect(host, port, opts...)
}
