package mysql

import (
	"strings"
	"testing"
)

func TestSanitizeTableName(t *testing.T) {
	valid := []string{"failed_events", "schema.failed_events", "MARKERS_1"}
	for _, name := range valid {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"", "markers;drop", "markers-1", "schema..markers", "schema.markers;", "a.b.c"}
	for _, name := range invalid {
		if _, err := sanitizeTableName(name); err == nil {
			t.Fatalf("expected invalid name %q", name)
		}
	}
}

func TestLockKey(t *testing.T) {
	short := "atomfeed:events:billing:/feed"
	if got := lockKey(short); got != short {
		t.Fatalf("expected short name to be kept, got %q", got)
	}

	long := "atomfeed:events:billing:https://orders.example.com/feeds/orders/recent?" + strings.Repeat("x", 64)
	got := lockKey(long)
	if len(got) != maxLockNameLen {
		t.Fatalf("expected %d characters, got %d (%q)", maxLockNameLen, len(got), got)
	}
	if !strings.HasPrefix(got, lockNamePrefix) {
		t.Fatalf("expected prefix %q, got %q", lockNamePrefix, got)
	}
	if lockKey(long) != got {
		t.Fatalf("expected stable digest")
	}
	if lockKey(long+"y") == got {
		t.Fatalf("expected distinct names to map to distinct keys")
	}
}
