package directory

import "testing"

func TestMemoryDirectoryRegisterDiscover(t *testing.T) {
	d := NewMemoryDirectory()

	if err := d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7001", Kinds: []string{"text"}}, 30); err != nil {
		t.Fatal(err)
	}
	if err := d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7002", Kinds: []string{"text", "tokens"}}, 30); err != nil {
		t.Fatal(err)
	}

	instances, err := d.Discover("echo-agent")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}
}

func TestMemoryDirectoryRegisterReplacesExistingAddr(t *testing.T) {
	d := NewMemoryDirectory()

	d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7001", Weight: 1}, 30)
	d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7001", Weight: 9}, 30)

	instances, _ := d.Discover("echo-agent")
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after re-register, got %d", len(instances))
	}
	if instances[0].Weight != 9 {
		t.Fatalf("expect re-register to update weight, got %d", instances[0].Weight)
	}
}

func TestMemoryDirectoryDeregister(t *testing.T) {
	d := NewMemoryDirectory()

	d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7001"}, 30)
	d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7002"}, 30)

	if err := d.Deregister("echo-agent", "127.0.0.1:7001"); err != nil {
		t.Fatal(err)
	}

	instances, _ := d.Discover("echo-agent")
	if len(instances) != 1 || instances[0].Addr != "127.0.0.1:7002" {
		t.Fatalf("expect only 127.0.0.1:7002 left, got %+v", instances)
	}
}

func TestMemoryDirectoryDiscoverUnknownAgentIsEmpty(t *testing.T) {
	d := NewMemoryDirectory()

	instances, err := d.Discover("no-such-agent")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("expect no instances, got %d", len(instances))
	}
}

func TestMemoryDirectoryWatchReceivesUpdate(t *testing.T) {
	d := NewMemoryDirectory()

	ch := d.Watch("echo-agent")
	d.Register("echo-agent", PeerInstance{Addr: "127.0.0.1:7001"}, 30)

	select {
	case instances := <-ch:
		if len(instances) != 1 || instances[0].Addr != "127.0.0.1:7001" {
			t.Fatalf("unexpected watch payload: %+v", instances)
		}
	default:
		t.Fatal("expected a watch notification after Register")
	}
}

func TestFilterByKind(t *testing.T) {
	instances := []PeerInstance{
		{Addr: ":7001", Kinds: []string{"text"}},
		{Addr: ":7002", Kinds: []string{"tokens"}},
		{Addr: ":7003"}, // no Kinds recorded: accepts everything
	}

	got := FilterByKind(instances, "text")
	if len(got) != 2 {
		t.Fatalf("expect 2 matches for kind=text, got %d: %+v", len(got), got)
	}

	all := FilterByKind(instances, "")
	if len(all) != 3 {
		t.Fatalf("expect FilterByKind with empty kind to return all instances, got %d", len(all))
	}
}
