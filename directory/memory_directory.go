package directory

import "sync"

// MemoryDirectory is an in-process Directory backed by a map, for tests
// and single-process deployments that have no etcd cluster to talk to.
// Unlike EtcdDirectory, registrations never expire on their own —
// ttlSeconds is accepted for interface compatibility but ignored.
type MemoryDirectory struct {
	mu        sync.Mutex
	instances map[string][]PeerInstance
	watchers  map[string][]chan []PeerInstance
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		instances: make(map[string][]PeerInstance),
		watchers:  make(map[string][]chan []PeerInstance),
	}
}

// Register adds instance under agent, replacing any existing entry with
// the same Addr.
func (d *MemoryDirectory) Register(agent string, instance PeerInstance, ttlSeconds int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	insts := d.instances[agent]
	for i, existing := range insts {
		if existing.Addr == instance.Addr {
			insts[i] = instance
			d.instances[agent] = insts
			d.notifyLocked(agent)
			return nil
		}
	}
	d.instances[agent] = append(insts, instance)
	d.notifyLocked(agent)
	return nil
}

// Deregister removes the instance at addr under agent, if present.
func (d *MemoryDirectory) Deregister(agent string, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	insts := d.instances[agent]
	for i, inst := range insts {
		if inst.Addr == addr {
			d.instances[agent] = append(insts[:i], insts[i+1:]...)
			d.notifyLocked(agent)
			break
		}
	}
	return nil
}

// Discover returns a copy of the currently registered instances for agent.
func (d *MemoryDirectory) Discover(agent string) ([]PeerInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	insts := d.instances[agent]
	out := make([]PeerInstance, len(insts))
	copy(out, insts)
	return out, nil
}

// Watch returns a channel that receives the full instance list for
// agent after every Register, and after every Deregister that removes an
// entry. The channel buffers one list; a notification sent while an
// earlier one is still unread is dropped.
func (d *MemoryDirectory) Watch(agent string) <-chan []PeerInstance {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan []PeerInstance, 1)
	d.watchers[agent] = append(d.watchers[agent], ch)
	return ch
}

// notifyLocked must be called with d.mu held.
func (d *MemoryDirectory) notifyLocked(agent string) {
	insts := make([]PeerInstance, len(d.instances[agent]))
	copy(insts, d.instances[agent])
	for _, ch := range d.watchers[agent] {
		select {
		case ch <- insts:
		default:
		}
	}
}
