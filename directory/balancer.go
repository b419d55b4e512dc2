package directory

// Balancer selects one peer instance from a discovered list.
// client.ConnectViaAgent calls Pick once per connection it opens to a
// logical agent name; implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []PeerInstance) (*PeerInstance, error)
	Name() string
}
