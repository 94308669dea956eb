package sequencer

import (
	"errors"
	"testing"

	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/store"
)

// fakeAxisIO tracks commanded destinations/velocities and reports a
// fixed or test-driven encoder position per axis.
type fakeAxisIO struct {
	encoder map[int]int32
	unread  map[int]bool
	dest    map[int]int32
	vel     map[int]int32
}

func newFakeAxisIO() *fakeAxisIO {
	return &fakeAxisIO{
		encoder: make(map[int]int32),
		unread:  make(map[int]bool),
		dest:    make(map[int]int32),
		vel:     make(map[int]int32),
	}
}

func (f *fakeAxisIO) ReadEncoder(id int) (int32, bool) {
	if f.unread[id] {
		return 0, false
	}
	return f.encoder[id], true
}

func (f *fakeAxisIO) SetDestination(id int, dest int32) error {
	f.dest[id] = dest
	f.encoder[id] = dest // instantaneous axis: always reaches commanded position
	return nil
}

func (f *fakeAxisIO) SetVelocity(id int, v int32) error {
	f.vel[id] = v
	return nil
}

func buildStore(t *testing.T, cfg proto.Config, frames []proto.Keyframe) *store.Store {
	t.Helper()
	b := store.NewMemoryBackend()
	if err := b.WriteConfig(cfg); err != nil {
		t.Fatal(err)
	}
	for i, kf := range frames {
		if err := b.WriteKeyframe(i, kf); err != nil {
			t.Fatal(err)
		}
	}
	st, err := store.Open(b)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestLoadSequence(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 500, Ticks: [8]uint16{16884}},
	}
	st := buildStore(t, proto.Config{ActiveAxes: 1, NumKeyframes: 2}, frames)
	axis := newFakeAxisIO()
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	got, err := seq.Keyframe(1)
	if err != nil {
		t.Fatal(err)
	}
	if got != frames[1] {
		t.Fatalf("got %+v, want %+v", got, frames[1])
	}
}

func TestSaveKeyframeRejectedWhilePlaying(t *testing.T) {
	st := buildStore(t, proto.Config{ActiveAxes: 1}, nil)
	seq := New(st, newFakeAxisIO(), nil, nil, &FakeClock{})
	seq.playing.Store(true)
	if err := seq.SaveKeyframe(0, proto.Keyframe{}); err != ErrPlaying {
		t.Fatalf("err = %v, want ErrPlaying", err)
	}
}

func TestIsInStartPosition(t *testing.T) {
	frames := []proto.Keyframe{{Duration: 0, Ticks: [8]uint16{16384}}}
	st := buildStore(t, proto.Config{ActiveAxes: 1, NumKeyframes: 1}, frames)
	axis := newFakeAxisIO()
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}

	axis.encoder[1] = 16384
	if !seq.IsInStartPosition() {
		t.Fatal("should report in position when encoder matches target exactly")
	}

	axis.encoder[1] = 16384 + 1000
	if seq.IsInStartPosition() {
		t.Fatal("should report out of position when encoder is far from target")
	}
}

func TestDoStartKeyframeSucceeds(t *testing.T) {
	frames := []proto.Keyframe{{Duration: 0, Ticks: [8]uint16{16384}}}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 1, EncToMot: [8]uint16{256}}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	axis.encoder[1] = 0 // far from target initially; SetDestination snaps it
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	if err := seq.DoStartKeyframe(); err != nil {
		t.Fatalf("DoStartKeyframe: %v", err)
	}
}

func TestDoStartKeyframeTimesOutWhenStuck(t *testing.T) {
	frames := []proto.Keyframe{{Duration: 0, Ticks: [8]uint16{16384}}}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 1, EncToMot: [8]uint16{256}}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	axis.unread[1] = true // encoder never reads, so it never reports in position
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	if err := seq.DoStartKeyframe(); err != ErrInitialisationFailed {
		t.Fatalf("err = %v, want ErrInitialisationFailed", err)
	}
}

func TestRunSequenceNonLoopedCompletes(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 5, Ticks: [8]uint16{16484}},
	}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 2, EncToMot: [8]uint16{256}, Lookahead: 2}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	if err := seq.RunSequence(false, nil); err != nil {
		t.Fatal(err)
	}
	if seq.IsPlaying() {
		t.Fatal("sequencer should not be playing after RunSequence returns")
	}
}

func TestRunSequenceAbortsOnPoll(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 1000, Ticks: [8]uint16{20384}},
	}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 2, EncToMot: [8]uint16{256}, Lookahead: 2}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	calls := 0
	err := seq.RunSequence(false, func() bool {
		calls++
		return calls > 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if seq.IsPlaying() {
		t.Fatal("sequencer should not be playing after an aborted run")
	}
}

func TestRunSequenceDrivesToStartFirst(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 5, Ticks: [8]uint16{16484}},
	}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 2, EncToMot: [8]uint16{256}, Lookahead: 2}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	axis.encoder[1] = 0 // far off the start pose; a host PLAY must not skip straight to segment 1
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}

	if err := seq.RunSequence(false, nil); err != nil {
		t.Fatalf("RunSequence: %v", err)
	}
	if axis.dest[1] == 0 {
		t.Fatal("RunSequence never commanded the axis toward keyframe 0 before playing segments")
	}
}

func TestRunSequencePropagatesInitialisationFailure(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 5, Ticks: [8]uint16{16484}},
	}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 2, EncToMot: [8]uint16{256}, Lookahead: 2}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	axis.unread[1] = true // encoder never reads, so the start keyframe never settles
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}

	if err := seq.RunSequence(false, nil); err != ErrInitialisationFailed {
		t.Fatalf("err = %v, want ErrInitialisationFailed", err)
	}
	if seq.IsPlaying() {
		t.Fatal("sequencer should not be left playing after initialisation fails")
	}
}

func TestHandleButtonRunsBringUpOnFirstPress(t *testing.T) {
	frames := []proto.Keyframe{{Duration: 0, Ticks: [8]uint16{16384}}}
	st := buildStore(t, proto.Config{ActiveAxes: 1, NumKeyframes: 1}, frames)
	axis := newFakeAxisIO()
	axis.encoder[1] = 16384
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}

	calls := 0
	bringUp := func() error { calls++; return nil }

	if err := seq.HandleButton(bringUp, nil); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	if calls != 1 {
		t.Fatalf("bringUp calls = %d, want 1", calls)
	}
	if !seq.initialised {
		t.Fatal("expected HandleButton to mark the sequencer initialised")
	}
}

func TestHandleButtonPropagatesBringUpFailure(t *testing.T) {
	st := buildStore(t, proto.Config{ActiveAxes: 1}, nil)
	seq := New(st, newFakeAxisIO(), nil, nil, &FakeClock{})

	wantErr := errors.New("axis unresponsive")
	err := seq.HandleButton(func() error { return wantErr }, nil)
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if seq.initialised {
		t.Fatal("a failed bring-up must not mark the sequencer initialised")
	}
}

func TestHandleButtonDrivesToStartThenPlays(t *testing.T) {
	frames := []proto.Keyframe{
		{Duration: 0, Ticks: [8]uint16{16384}},
		{Duration: 5, Ticks: [8]uint16{16484}},
	}
	cfg := proto.Config{ActiveAxes: 1, NumKeyframes: 2, EncToMot: [8]uint16{256}, Lookahead: 2}
	st := buildStore(t, cfg, frames)
	axis := newFakeAxisIO()
	axis.encoder[1] = 0 // far from the start pose
	seq := New(st, axis, nil, nil, &FakeClock{})
	if err := seq.LoadSequence(); err != nil {
		t.Fatal(err)
	}
	seq.initialised = true

	if err := seq.HandleButton(nil, nil); err != nil {
		t.Fatalf("HandleButton (drive to start): %v", err)
	}
	if !seq.IsInStartPosition() {
		t.Fatal("expected HandleButton to drive the axis to the start pose")
	}

	if err := seq.HandleButton(nil, nil); err != nil {
		t.Fatalf("HandleButton (play): %v", err)
	}
	if seq.IsPlaying() {
		t.Fatal("sequencer should not be playing after RunSequence returns")
	}
}
