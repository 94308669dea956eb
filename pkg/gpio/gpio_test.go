package gpio

import (
	"testing"
	"time"
)

func TestApplyOutput(t *testing.T) {
	out := &FakeOutputPin{}
	c := &Controller{Output: out}
	if err := c.ApplyOutput(true); err != nil {
		t.Fatal(err)
	}
	if !out.High {
		t.Fatal("output pin should be high")
	}
}

func TestButtonPressedIsActiveLow(t *testing.T) {
	c := &Controller{Button: &FakeInputPin{Values: []bool{false}}}
	pressed, err := c.ButtonPressed()
	if err != nil {
		t.Fatal(err)
	}
	if !pressed {
		t.Fatal("a low reading should report pressed")
	}
}

func TestSynchronizeWaitsForHighStreak(t *testing.T) {
	line := &FakeSyncLine{}
	line.SetLevel(false) // peer is still holding the line low
	c := &Controller{Sync: line}

	done := make(chan error, 1)
	go func() {
		done <- c.Synchronize(SyncParams{
			RequiredHighSamples: 3,
			SampleInterval:      time.Millisecond,
			SettleDelay:         time.Millisecond,
		})
	}()

	time.Sleep(5 * time.Millisecond)
	line.SetLevel(true) // peer releases

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Synchronize did not complete")
	}

	high, _ := line.Read()
	if high {
		t.Fatal("line should be reasserted low after synchronize")
	}
}

func TestSynchronizeNoopWithoutLine(t *testing.T) {
	c := &Controller{}
	if err := c.Synchronize(DefaultSyncParams); err != nil {
		t.Fatal(err)
	}
}
