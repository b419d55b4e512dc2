// Package directory provides peer discovery, load balancing, and
// connection pooling for applications that wire an XCP client to one of
// several redundant agent endpoints. Peer resolution (this package) is
// layered on top of the handshake (session.Connect) rather than folded
// into it: Discover/Pick choose an address, then client.ConnectViaAgent
// runs the normal HELLO→CAPS negotiation against whichever instance was
// picked.
package directory

// PeerInstance describes one running instance of an agent endpoint.
type PeerInstance struct {
	Addr    string   // Network address, e.g., "127.0.0.1:7000"
	Weight  int      // Weight for load balancing (higher = more traffic)
	Version string   // Agent version, for canary rollout
	Kinds   []string // Ether kinds this instance accepts (spec.md §6's HELLO "accepts")
}

// FilterByKind returns the subset of instances that advertise kind in
// their Kinds list. An instance with no Kinds recorded is treated as
// accepting everything (e.g. entries registered before this field
// existed, or peers that never narrowed their capabilities).
func FilterByKind(instances []PeerInstance, kind string) []PeerInstance {
	if kind == "" {
		return instances
	}
	out := make([]PeerInstance, 0, len(instances))
	for _, inst := range instances {
		if len(inst.Kinds) == 0 {
			out = append(out, inst)
			continue
		}
		for _, k := range inst.Kinds {
			if k == kind {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

// Directory is the interface for peer registration and discovery.
// Implementations include EtcdDirectory (production) and a map-backed
// fake for tests.
type Directory interface {
	// Register adds a peer instance with a TTL lease. The instance is
	// automatically removed if the lease stops being renewed (e.g. the
	// process crashed).
	Register(agent string, instance PeerInstance, ttlSeconds int64) error

	// Deregister removes a peer instance. Called during graceful
	// shutdown before closing the listener.
	Deregister(agent string, addr string) error

	// Discover returns all currently registered instances for an agent.
	Discover(agent string) ([]PeerInstance, error)

	// Watch returns a channel that emits updated instance lists whenever
	// the agent's instances change.
	Watch(agent string) <-chan []PeerInstance
}
