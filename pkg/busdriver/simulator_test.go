package busdriver

import (
	"testing"

	"github.com/mxschwarz/robolink/pkg/tendon"
)

// TestDriverAgainstSimulatedController exercises the Driver against
// pkg/tendon's Simulator instead of a canned fakeBus, covering a full
// bring-up: ping an uninitialised controller, start its program, drive
// it through zero-finding, and confirm it reaches IDLE with a
// consistent encoder reading — the same sequence pkg/device's BringUp
// runs against a real controller.
func TestDriverAgainstSimulatedController(t *testing.T) {
	sim := tendon.NewSimulator(3)
	d := New(sim, nil)

	state, err := d.Ping(3)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if state != int(tendon.StateUninitialised) {
		t.Fatalf("initial state = %d, want StateUninitialised", state)
	}

	if err := d.StartProgram(3); err != nil {
		t.Fatalf("StartProgram: %v", err)
	}

	if err := d.SetState(3, int(tendon.StateSearching)); err != nil {
		t.Fatalf("SetState(searching): %v", err)
	}

	sim.SetHallReading(tendon.HallThreshold + 10)
	for i := 0; i < 2000 && sim.State() == tendon.StateSearching; i++ {
		sim.Tick()
		if i == 50 || i == 150 {
			sim.SetHallReading(0)
		} else {
			sim.SetHallReading(tendon.HallThreshold + 10)
		}
	}

	if sim.State() != tendon.StateIdle {
		t.Fatalf("controller state after sweep = %v, want StateIdle", sim.State())
	}

	state, err = d.ReadState(3)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != int(tendon.StateIdle) {
		t.Fatalf("ReadState = %d, want StateIdle", state)
	}

	if err := d.SetDestination(3, 500); err != nil {
		t.Fatalf("SetDestination: %v", err)
	}
	if err := d.SetVelocity(3, 200); err != nil {
		t.Fatalf("SetVelocity: %v", err)
	}
	for i := 0; i < 200; i++ {
		sim.Tick()
	}

	enc, err := d.ReadEncoder(3)
	if err != nil {
		t.Fatalf("ReadEncoder: %v", err)
	}
	if abs32(int32(enc)-sim.Encoder()) > 2 {
		t.Fatalf("ReadEncoder = %d, want close to simulator's own %d", enc, sim.Encoder())
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
