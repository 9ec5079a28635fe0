package audit_test

import (
	"path/filepath"
	"testing"

	"github.com/apexdata/pitwall/internal/audit"
)

func TestAppendConnectionEventRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	entry, err := l.Append(audit.ConnectionEvent{
		Kind:   audit.EventConnected,
		Source: "archive",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if entry.Event.Kind != audit.EventConnected || entry.Event.Source != "archive" {
		t.Errorf("ConnectionEvent = %+v", entry.Event)
	}

	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Verify entries = %d, want 1", len(entries))
	}
}
