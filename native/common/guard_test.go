package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauses(t *testing.T) {
	pauses := NewPauses(" CDP ")
	if err := Guard(pauses, "cdp"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	pauses.Set("cdp", false)
	if err := Guard(pauses, "cdp"); err != nil {
		t.Fatalf("expected resume, got %v", err)
	}
	if err := Guard(nil, "cdp"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
