package busclient

import "testing"

func TestWellKnownIsBusDriver(t *testing.T) {
	if WellKnown() != "org.freedesktop.DBus" {
		t.Fatalf("WellKnown() = %q, want org.freedesktop.DBus", WellKnown())
	}
}

// TestDialRequiresALiveBus is a smoke test that only runs when a session
// bus is reachable; CI environments without a bus daemon skip it rather
// than failing.
func TestDialRequiresALiveBus(t *testing.T) {
	c, err := Dial(false)
	if err != nil {
		t.Skipf("no session bus reachable in this environment: %v", err)
	}
	defer c.Close()
	if _, err := c.ListNames(); err != nil {
		t.Fatalf("ListNames: %v", err)
	}
}
