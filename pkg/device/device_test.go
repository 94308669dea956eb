package device

import (
	"errors"
	"testing"
	"time"
)

// fakeAxisDriver replays a pre-scripted, monotonically-advancing Ping
// sequence per axis (the last value repeats once exhausted, standing
// in for a controller that has settled). SetState is recorded but does
// not feed back into the script, since on real hardware a state write
// is not reflected by the very next poll either.
type fakeAxisDriver struct {
	states       map[int][]int
	pingIdx      map[int]int
	pingErr      map[int]bool
	started      map[int]bool
	startFails   int
	setStateCall []int
}

func newFakeAxisDriver() *fakeAxisDriver {
	return &fakeAxisDriver{
		states:  make(map[int][]int),
		pingIdx: make(map[int]int),
		pingErr: make(map[int]bool),
		started: make(map[int]bool),
	}
}

func (f *fakeAxisDriver) Ping(id int) (int, error) {
	if f.pingErr[id] {
		return 0, errors.New("no reply")
	}
	seq := f.states[id]
	if len(seq) == 0 {
		return int(NtStateIdle), nil
	}
	idx := f.pingIdx[id]
	if idx >= len(seq) {
		idx = len(seq) - 1
	} else {
		f.pingIdx[id] = idx + 1
	}
	return seq[idx], nil
}

func (f *fakeAxisDriver) SetState(id, state int) error {
	f.setStateCall = append(f.setStateCall, id)
	return nil
}

func (f *fakeAxisDriver) StartProgram(id int) error {
	if f.startFails > 0 {
		f.startFails--
		return errors.New("start failed")
	}
	f.started[id] = true
	return nil
}

func noSleep(time.Duration) {}

func TestBringUpWalksResetToIdle(t *testing.T) {
	drv := newFakeAxisDriver()
	drv.states[1] = []int{int(NtStateReset), int(NtStateSearch), int(NtStateIdle)}

	b := NewBringUp(drv, []int{1})
	b.Sleep = noSleep

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(drv.setStateCall) == 0 {
		t.Fatal("expected SetState(SEARCH) to have been written while at RESET")
	}
}

func TestBringUpStartsProgramWhenNotRunning(t *testing.T) {
	drv := newFakeAxisDriver()
	drv.states[1] = []int{int(NtStateReset), int(NtStateReset), int(NtStateIdle)}

	b := NewBringUp(drv, []int{1})
	b.Sleep = noSleep

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !drv.started[1] {
		t.Fatal("expected StartProgram to have been called")
	}
}

func TestBringUpGivesUpAfterPingFailureBudget(t *testing.T) {
	drv := newFakeAxisDriver()
	drv.pingErr[1] = true

	b := NewBringUp(drv, []int{1})
	b.Sleep = noSleep

	if err := b.Run(); err != ErrAxisUnresponsive {
		t.Fatalf("err = %v, want ErrAxisUnresponsive", err)
	}
}

func TestBringUpRequiresEveryAxisReady(t *testing.T) {
	drv := newFakeAxisDriver()
	drv.states[1] = []int{int(NtStateIdle)}
	drv.states[2] = []int{int(NtStateSearch), int(NtStateIdle)}

	b := NewBringUp(drv, []int{1, 2})
	b.Sleep = noSleep

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
