package directory

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// ConsistentHash maps keys to instances using a hash ring, so the same
// key (e.g. a session or channel id) keeps mapping to the same instance
// until the ring membership changes — useful for agents that keep
// per-peer local state or caches.
//
// Each real instance is placed at N virtual nodes on the ring so three
// instances don't cluster together and skew load.
type ConsistentHash struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]*PeerInstance
}

// NewConsistentHash creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHash() *ConsistentHash {
	return &ConsistentHash{
		replicas: 100,
		nodes:    make(map[uint32]*PeerInstance),
	}
}

// Add places instance onto the ring with its virtual nodes.
func (b *ConsistentHash) Add(instance *PeerInstance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// PickKey finds the instance responsible for key: hash it, then take
// the first node clockwise (wrapping to the first node past the end).
//
// PickKey takes a string key rather than []PeerInstance because
// consistent hashing is key-based, not list-based — it does not
// implement the Balancer interface.
func (b *ConsistentHash) PickKey(key string) (*PeerInstance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("directory: consistent hash ring is empty")
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHash) Name() string { return "ConsistentHash" }
