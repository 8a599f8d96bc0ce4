package common

import (
	"errors"
	"testing"
)

func TestGuardWithPauseSwitch(t *testing.T) {
	sw := NewPauseSwitch("Presale")
	if err := Guard(sw, "presale"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused module, got %v", err)
	}
	sw.Resume(" PRESALE ")
	if err := Guard(sw, "presale"); err != nil {
		t.Fatalf("expected resumed module, got %v", err)
	}
	if err := Guard(nil, "presale"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var nilSwitch *PauseSwitch
	if nilSwitch.IsPaused("presale") {
		t.Fatalf("nil switch must report unpaused")
	}
}
