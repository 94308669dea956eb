package busdriver

import (
	"bytes"
	"testing"
)

// fakeBus answers every write with a single canned reply, echoing
// whatever parseReply expects for the test in question.
type fakeBus struct {
	writes  [][]byte
	replies [][]byte
	idx     int
}

func (f *fakeBus) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeBus) Read(p []byte) (int, error) {
	if f.idx >= len(f.replies) {
		return 0, nil
	}
	reply := f.replies[f.idx]
	f.idx++
	n := copy(p, reply)
	return n, nil
}

func TestPingParsesState(t *testing.T) {
	bus := &fakeBus{replies: [][]byte{[]byte("1ZP+0\r")}}
	d := New(bus, nil)
	state, err := d.Ping(1)
	if err != nil {
		t.Fatal(err)
	}
	if state != 0 {
		t.Fatalf("state = %d, want 0", state)
	}
	if !bytes.Equal(bus.writes[0], []byte("#1ZP\r")) {
		t.Fatalf("wrote %q, want %q", bus.writes[0], "#1ZP\r")
	}
}

func TestReadEncoderNegativeValue(t *testing.T) {
	bus := &fakeBus{replies: [][]byte{[]byte("2I-145\r")}}
	d := New(bus, nil)
	v, err := d.ReadEncoder(2)
	if err != nil {
		t.Fatal(err)
	}
	if v != -145 {
		t.Fatalf("encoder = %d, want -145", v)
	}
}

func TestNoReplyTimesOut(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus, nil)
	_, err := d.Ping(1)
	if err != ErrNoReply {
		t.Fatalf("err = %v, want ErrNoReply", err)
	}
}

func TestMalformedReplyRejected(t *testing.T) {
	bus := &fakeBus{replies: [][]byte{[]byte("9ZP+0\r")}}
	d := New(bus, nil)
	_, err := d.Ping(1) // asked id 1, controller 9 answered
	if err == nil {
		t.Fatal("expected an error for a mismatched id")
	}
}

type fakeDirection struct {
	calls []bool
}

func (f *fakeDirection) SetTransmit(enable bool) error {
	f.calls = append(f.calls, enable)
	return nil
}

func TestDirectionTogglesAroundChat(t *testing.T) {
	bus := &fakeBus{replies: [][]byte{[]byte("1P+2\r")}}
	dir := &fakeDirection{}
	d := New(bus, dir)
	if _, err := d.ReadState(1); err != nil {
		t.Fatal(err)
	}
	if len(dir.calls) != 2 || dir.calls[0] != true || dir.calls[1] != false {
		t.Fatalf("direction calls = %v, want [true false]", dir.calls)
	}
}
