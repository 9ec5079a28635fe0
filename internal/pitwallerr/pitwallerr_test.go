package pitwallerr_test

import (
	"errors"
	"testing"

	"github.com/apexdata/pitwall/internal/pitwallerr"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind pitwallerr.Kind
		want bool
	}{
		{pitwallerr.Connection, true},
		{pitwallerr.Timeout, true},
		{pitwallerr.Buffer, true},
		{pitwallerr.FileError, false},
		{pitwallerr.Version, false},
		{pitwallerr.MemoryAccess, false},
		{pitwallerr.Parse, false},
		{pitwallerr.FieldMissing, false},
		{pitwallerr.TypeMismatch, false},
		{pitwallerr.Platform, false},
		{pitwallerr.SchemaValidation, false},
	}

	for _, c := range cases {
		e := pitwallerr.New(c.kind, "boom", nil)
		if got := e.Retryable(); got != c.want {
			t.Errorf("Kind %s: Retryable() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := pitwallerr.New(pitwallerr.Connection, "dial failed", cause)

	if !errors.Is(e, cause) {
		t.Errorf("errors.Is(e, cause) = false, want true")
	}
	if got := e.Error(); got == "" {
		t.Errorf("Error() returned empty string")
	}
}

func TestFieldNotFoundSuggestsPrefixMatches(t *testing.T) {
	known := []string{"RPMCalc", "RpmShiftLight", "Throttle", "Brake"}
	e := pitwallerr.FieldNotFound("RPM", known)

	if e.Kind != pitwallerr.FieldMissing {
		t.Fatalf("Kind = %s, want field_missing", e.Kind)
	}
	if e.Name != "RPM" {
		t.Errorf("Name = %q, want %q", e.Name, "RPM")
	}

	want := map[string]bool{"RPMCalc": true, "RpmShiftLight": true}
	if len(e.Suggestions) != len(want) {
		t.Fatalf("Suggestions = %v, want entries for %v", e.Suggestions, want)
	}
	for _, s := range e.Suggestions {
		if !want[s] {
			t.Errorf("unexpected suggestion %q", s)
		}
	}
}

func TestFieldNotFoundFallsBackToStaticSuggestions(t *testing.T) {
	e := pitwallerr.FieldNotFound("Unrelated", []string{"Speed"})
	if len(e.Suggestions) == 0 {
		t.Fatalf("expected fallback suggestions, got none")
	}
}
