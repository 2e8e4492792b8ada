package idgen

import (
	"strings"
	"testing"
)

func TestGenerator_UniquePrefixed(t *testing.T) {
	g, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.TransactionID()
		if !strings.HasPrefix(id, "TXN-") {
			t.Fatalf("missing prefix: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if ref := g.ConversionRef(); !strings.HasPrefix(ref, "CNV-") {
		t.Errorf("conversion ref = %s", ref)
	}
}

func TestNew_RejectsOutOfRangeNode(t *testing.T) {
	if _, err := New(5000); err == nil {
		t.Error("expected error for node beyond 10 bits")
	}
}
