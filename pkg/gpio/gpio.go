// Package gpio implements the device's digital I/O: the output pin
// driven by SET/RESET keyframe commands, the start button, and the
// bidirectional sync line used to restart several arms' looped
// sequences in lockstep.
package gpio

import (
	"fmt"
	"time"
)

// OutputPin is a single digital output.
type OutputPin interface {
	Set(high bool) error
}

// InputPin is a single digital input, read active-low the way the
// firmware reads its start button.
type InputPin interface {
	Read() (bool, error)
}

// SyncLine is a shared, open-drain-style line: any arm can pull it low,
// and every arm can sense whether it is currently high.
type SyncLine interface {
	// Release lets the line float (pulled up externally).
	Release() error
	// Assert drives the line low.
	Assert() error
	// Read reports the line's current level.
	Read() (bool, error)
}

// Controller groups the pins one device instance owns.
type Controller struct {
	Output OutputPin
	Button InputPin
	Sync   SyncLine
}

// ApplyOutput translates a keyframe output command into a pin write.
// proto.OutputNop is a no-op, handled by the caller before reaching
// here.
func (c *Controller) ApplyOutput(set bool) error {
	if c.Output == nil {
		return nil
	}
	return c.Output.Set(set)
}

// ButtonPressed reports whether the start button is currently held,
// active-low at the pin level (Read()==false means pressed).
func (c *Controller) ButtonPressed() (bool, error) {
	if c.Button == nil {
		return false, nil
	}
	high, err := c.Button.Read()
	if err != nil {
		return false, err
	}
	return !high, nil
}

// SyncParams tunes the lockstep restart handshake.
type SyncParams struct {
	RequiredHighSamples int
	SampleInterval      time.Duration
	SettleDelay         time.Duration
}

// DefaultSyncParams matches io_synchronize: 20 consecutive high samples,
// sampled every millisecond, followed by a 20ms settle before the line
// is reasserted.
var DefaultSyncParams = SyncParams{
	RequiredHighSamples: 20,
	SampleInterval:      time.Millisecond,
	SettleDelay:         20 * time.Millisecond,
}

// Synchronize implements the multi-arm sync handshake: release the
// line, wait until every arm sharing it has also released (seen as 20
// consecutive high samples), wait out the settle delay, then reassert.
func (c *Controller) Synchronize(p SyncParams) error {
	if c.Sync == nil {
		return nil
	}
	if err := c.Sync.Release(); err != nil {
		return fmt.Errorf("gpio: release sync line: %w", err)
	}

	streak := 0
	for streak < p.RequiredHighSamples {
		high, err := c.Sync.Read()
		if err != nil {
			return fmt.Errorf("gpio: read sync line: %w", err)
		}
		if high {
			streak++
		} else {
			streak = 0
		}
		time.Sleep(p.SampleInterval)
	}

	time.Sleep(p.SettleDelay)

	return c.Sync.Assert()
}

// FakeOutputPin records the last value written, for tests.
type FakeOutputPin struct{ High bool }

func (p *FakeOutputPin) Set(high bool) error { p.High = high; return nil }

// FakeInputPin returns a fixed or queued sequence of reads, for tests.
type FakeInputPin struct {
	Values []bool
	idx    int
}

func (p *FakeInputPin) Read() (bool, error) {
	if len(p.Values) == 0 {
		return true, nil
	}
	v := p.Values[p.idx%len(p.Values)]
	p.idx++
	return v, nil
}

// FakeSyncLine simulates a shared line with a controllable "peer" level
// that Synchronize's caller can drive from a test goroutine.
type FakeSyncLine struct {
	asserted bool // this arm is driving the line low
	peerLow  bool // another arm is driving the line low
}

func (f *FakeSyncLine) Release() error      { f.asserted = false; return nil }
func (f *FakeSyncLine) Assert() error       { f.asserted = true; return nil }
func (f *FakeSyncLine) Read() (bool, error) { return !f.asserted && !f.peerLow, nil }

// SetLevel lets a test simulate another arm pulling the line low.
func (f *FakeSyncLine) SetLevel(high bool) { f.peerLow = !high }
