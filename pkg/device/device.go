// Package device implements the per-axis controller bring-up sweep
// run from the device main loop's button branch, grounded on
// main.cpp's initialize(): ping every active axis, start its
// on-controller program if it hasn't been started yet, and walk it
// RESET->SEARCH until it reports IDLE or COMPLIANCE.
package device

import (
	"errors"
	"time"
)

// NtState mirrors the Nanotec controller's register-P state values.
type NtState int

const (
	NtStateReset      NtState = 0
	NtStateSearch     NtState = 1
	NtStateIdle       NtState = 2
	NtStateCompliance NtState = 3
)

// AxisDriver is the subset of *busdriver.Driver bring-up needs.
type AxisDriver interface {
	Ping(id int) (int, error)
	SetState(id, state int) error
	StartProgram(id int) error
}

// ErrAxisUnresponsive is returned once the shared failed-ping counter
// reaches maxPingFailures, matching the firmware's errorcnt==200 give-up.
var ErrAxisUnresponsive = errors.New("device: axis did not respond to bring-up, playback disabled")

// maxPingFailures bounds total failed pings, across all axes, before
// bring-up gives up.
const maxPingFailures = 200

// pollInterval is the delay between bring-up sweeps, matching
// initialize()'s _delay_ms(200).
const pollInterval = 200 * time.Millisecond

// BringUp drives one or more axes through the bring-up sweep.
type BringUp struct {
	driver      AxisDriver
	axes        []int
	javaStarted map[int]bool

	// Sleep is the delay hook between sweeps; tests override it to
	// avoid real waits.
	Sleep func(time.Duration)
}

// NewBringUp builds a sweep over the given 1-based axis addresses.
func NewBringUp(driver AxisDriver, axes []int) *BringUp {
	return &BringUp{
		driver:      driver,
		axes:        axes,
		javaStarted: make(map[int]bool),
		Sleep:       time.Sleep,
	}
}

// Run blocks until every axis reports IDLE or COMPLIANCE, or returns
// ErrAxisUnresponsive once the shared failure budget is exhausted.
func (b *BringUp) Run() error {
	failures := 0

	for {
		b.Sleep(pollInterval)

		ready := true
		for _, axis := range b.axes {
			state, err := b.driver.Ping(axis)
			if err != nil {
				failures++
				if failures >= maxPingFailures {
					return ErrAxisUnresponsive
				}
				ready = false
				continue
			}

			if NtState(state) != NtStateReset {
				b.javaStarted[axis] = true
			}
			if !b.javaStarted[axis] {
				b.javaStarted[axis] = b.driver.StartProgram(axis) == nil
				if !b.javaStarted[axis] {
					ready = false
					continue
				}
			}

			switch NtState(state) {
			case NtStateReset:
				b.driver.SetState(axis, int(NtStateSearch))
				ready = false
			case NtStateSearch:
				ready = false
			case NtStateIdle, NtStateCompliance:
			}
		}

		if ready {
			return nil
		}
	}
}
