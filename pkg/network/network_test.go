package network

import (
	"testing"
	"time"
)

func TestResolveBindAddrIP(t *testing.T) {
	addr, err := resolveBindAddr("127.0.0.1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.IP.String() != "127.0.0.1" || addr.Port != 0 {
		t.Fatalf("unexpected addr %v", addr)
	}
}

func TestResolveBindAddrUnknownInterface(t *testing.T) {
	if _, err := resolveBindAddr("definitely-not-an-interface0"); err == nil {
		t.Fatal("expected error for unknown interface")
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Timeout != 5*time.Second || c.Transport == nil {
		t.Fatalf("unexpected client %+v", c)
	}
	if _, err := NewClient(Options{BindAddress: "definitely-not-an-interface0"}); err == nil {
		t.Fatal("expected bind error")
	}
}
