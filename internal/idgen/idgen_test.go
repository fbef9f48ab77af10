package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("trd_")
	if !strings.HasPrefix(id, "trd_") {
		t.Errorf("Expected trd_ prefix, got %s", id)
	}
	if len(id) != len("trd_")+24 {
		t.Errorf("Expected 24 hex chars after prefix, got %d", len(id)-len("trd_"))
	}
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Trade()
		if seen[id] {
			t.Fatalf("Duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestHex(t *testing.T) {
	h := Hex(16)
	if len(h) != 32 {
		t.Errorf("Expected 32 hex chars for 16 bytes, got %d", len(h))
	}
}

func TestTypedConstructors(t *testing.T) {
	cases := []struct {
		id     string
		prefix string
	}{
		{Trade(), "trd_"},
		{Order(), "ord_"},
		{Subscription(), "sub_"},
		{Receipt(), "rcp_"},
	}
	for _, c := range cases {
		if !strings.HasPrefix(c.id, c.prefix) {
			t.Errorf("Expected prefix %s, got %s", c.prefix, c.id)
		}
	}
}
