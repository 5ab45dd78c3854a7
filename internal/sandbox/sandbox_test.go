package sandbox

import (
	"context"
	"testing"
)

func TestPortProtoAndNumber(t *testing.T) {
	cases := []struct {
		in    string
		proto string
		num   string
	}{
		{"9515/tcp", "tcp", "9515"},
		{"80/udp", "udp", "80"},
		{"8080", "tcp", "8080"},
	}
	for _, c := range cases {
		if got := portProto(c.in); got != c.proto {
			t.Errorf("portProto(%q) = %q, want %q", c.in, got, c.proto)
		}
		if got := portNumber(c.in); got != c.num {
			t.Errorf("portNumber(%q) = %q, want %q", c.in, got, c.num)
		}
	}
}

func TestRegistryKillAll(t *testing.T) {
	reg := NewRegistry()
	killed := 0
	reg.Register("op1", func() { killed++ })
	reg.Register("op2", func() { killed++ })

	reg.KillAll()

	if killed != 2 {
		t.Fatalf("expected 2 cancellations, got %d", killed)
	}

	reg.mu.Lock()
	remaining := len(reg.ops)
	reg.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected registry to be empty after KillAll, got %d entries", remaining)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("op1", func() { called = true })
	reg.Unregister("op1")
	reg.KillAll()

	if called {
		t.Fatal("unregistered operation should not be cancelled")
	}
}

func TestServiceHandleHostPortFor(t *testing.T) {
	h := &ServiceHandle{
		ContainerID: "abc",
		hostPorts:   map[string]string{"9515/tcp": "49231"},
	}
	port, ok := h.HostPortFor("9515/tcp")
	if !ok || port != "49231" {
		t.Fatalf("expected 49231, got %q (ok=%v)", port, ok)
	}
	if _, ok := h.HostPortFor("80/tcp"); ok {
		t.Fatal("expected no binding for unrequested port")
	}
}

func TestKillNilHandle(t *testing.T) {
	r := &Runner{}
	if err := r.Kill(context.Background(), nil); err != nil {
		t.Fatalf("Kill(nil) should be a no-op, got %v", err)
	}
}
