// Package directory: EtcdDirectory implements Directory on etcd v3,
// adapted from the teacher's registry/etcd_registry.go with the
// "/mini-rpc/..." key scheme replaced by "/xcp/...".
//
// etcd is used as a distributed phonebook for agents:
//
//	Key:   /xcp/{agent}/{addr}
//	Value: JSON-encoded PeerInstance
//
// Registration uses TTL leases: if the process crashes, the lease
// expires and the entry is automatically removed.
package directory

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/xcp/"

// EtcdDirectory implements Directory using etcd v3.
type EtcdDirectory struct {
	client *clientv3.Client
}

// NewEtcdDirectory creates a directory connected to the given etcd
// endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: c}, nil
}

// Register stores instance under /xcp/{agent}/{addr} with a TTL lease
// and starts background lease renewal.
//
// leaseID is kept as a local variable, not stored on the struct, so
// multiple goroutines sharing one EtcdDirectory never race on it.
func (d *EtcdDirectory) Register(agent string, instance PeerInstance, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := d.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = d.client.Put(ctx, keyPrefix+agent+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a peer instance from etcd.
func (d *EtcdDirectory) Deregister(agent string, addr string) error {
	_, err := d.client.Delete(context.TODO(), keyPrefix+agent+"/"+addr)
	return err
}

// Discover returns all currently registered instances for agent.
func (d *EtcdDirectory) Discover(agent string) ([]PeerInstance, error) {
	resp, err := d.client.Get(context.TODO(), keyPrefix+agent+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]PeerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance PeerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch monitors the agent's key prefix and emits the full instance
// list on every change (simpler than parsing individual watch events).
func (d *EtcdDirectory) Watch(agent string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)
	prefix := keyPrefix + agent + "/"

	go func() {
		watchChan := d.client.Watch(context.TODO(), prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := d.Discover(agent)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()

	return ch
}
