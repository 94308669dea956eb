// Package sequencer implements the device's on-board playback engine:
// it interpolates a committed keyframe sequence, runs the per-axis
// look-ahead velocity correction loop against live encoder feedback,
// and orchestrates the start-of-sequence bring-to-pose move and the
// multi-arm sync handshake.
package sequencer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mxschwarz/robolink/pkg/gpio"
	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/store"
)

// AxisIO is the per-axis hardware interface the sequencer drives. A
// *busdriver.Driver satisfies it via a small per-axis adapter; tests
// use a fake.
type AxisIO interface {
	// ReadEncoder returns the axis's current encoder position (already
	// in tick space, i.e. biased) and whether the reading succeeded.
	ReadEncoder(axisID int) (ticks int32, ok bool)
	SetDestination(axisID int, destTicks int32) error
	SetVelocity(axisID int, velocity int32) error
}

// Synchronizer performs the multi-arm sync handshake; *gpio.Controller
// satisfies this directly.
type Synchronizer interface {
	Synchronize(gpio.SyncParams) error
}

// ErrPlaying is returned by mutating calls while a sequence is running,
// matching the firmware's "destructive commands rejected while playing"
// invariant.
var ErrPlaying = errors.New("sequencer: rejected while playing")

// ErrInitialisationFailed is returned when the start-keyframe move does
// not complete within its timeout.
var ErrInitialisationFailed = errors.New("sequencer: start keyframe not reached")

// startKeyframeTimeoutMs and friends mirror motion_doStartKeyframe.
const (
	startKeyframeTimeoutMs  = 8000
	startKeyframeVelocityPct = 94 // enc_to_mot * 94/256
	startPositionTolerance   = 50
	requiredConsecutiveHits  = 10
)

// Sequencer holds the in-RAM keyframe buffer and config mutated by the
// command dispatcher, and drives playback against AxisIO.
type Sequencer struct {
	store *store.Store
	axis  AxisIO
	out   *gpio.Controller
	sync  Synchronizer
	clock Clock

	cfg    proto.Config
	frames []proto.Keyframe

	// playing and abort are read from the command dispatcher's goroutine
	// while RunSequence mutates them from the playback goroutine it runs
	// on, so both need atomic access.
	playing atomic.Bool
	abort   atomic.Bool

	// initialised tracks whether HandleButton has completed axis
	// bring-up. The device main loop calls HandleButton from a single
	// goroutine, so this needs no synchronisation of its own.
	initialised bool
}

// New creates a sequencer backed by st, driving hardware through axis
// and out, using clock for timing. sync may be nil to disable the
// multi-arm handshake.
func New(st *store.Store, axis AxisIO, out *gpio.Controller, sync Synchronizer, clock Clock) *Sequencer {
	return &Sequencer{store: st, axis: axis, out: out, sync: sync, clock: clock, cfg: st.Config()}
}

// LoadSequence copies the persisted keyframes into the in-RAM buffer, as
// motion_loadSequence does at boot.
func (s *Sequencer) LoadSequence() error {
	s.cfg = s.store.Config()
	frames := make([]proto.Keyframe, s.cfg.NumKeyframes)
	for i := range frames {
		kf, err := s.store.ReadKeyframe(i)
		if err != nil {
			return fmt.Errorf("sequencer: load keyframe %d: %w", i, err)
		}
		frames[i] = kf
	}
	s.frames = frames
	return nil
}

// Commit flushes the in-RAM buffer and config to the store, as
// motion_commit does.
func (s *Sequencer) Commit() error {
	if s.playing.Load() {
		return ErrPlaying
	}
	if err := s.store.WriteConfig(s.cfg); err != nil {
		return err
	}
	for i, kf := range s.frames {
		if err := s.store.WriteKeyframe(i, kf); err != nil {
			return fmt.Errorf("sequencer: commit keyframe %d: %w", i, err)
		}
	}
	return nil
}

// SetConfig replaces the in-RAM config, rejected while playing.
func (s *Sequencer) SetConfig(cfg proto.Config) error {
	if s.playing.Load() {
		return ErrPlaying
	}
	s.cfg = cfg
	return nil
}

// Config returns the in-RAM config.
func (s *Sequencer) Config() proto.Config { return s.cfg }

// SaveKeyframe writes into the in-RAM buffer at index, growing it as
// needed, rejected while playing.
func (s *Sequencer) SaveKeyframe(index int, kf proto.Keyframe) error {
	if s.playing.Load() {
		return ErrPlaying
	}
	if index < 0 || index >= proto.MaxKeyframes {
		return fmt.Errorf("sequencer: index %d out of range", index)
	}
	for len(s.frames) <= index {
		s.frames = append(s.frames, proto.Keyframe{})
	}
	s.frames[index] = kf
	if uint16(len(s.frames)) > s.cfg.NumKeyframes {
		s.cfg.NumKeyframes = uint16(len(s.frames))
	}
	return nil
}

// Keyframe reads the in-RAM buffer at index.
func (s *Sequencer) Keyframe(index int) (proto.Keyframe, error) {
	if index < 0 || index >= len(s.frames) {
		return proto.Keyframe{}, fmt.Errorf("sequencer: index %d out of range", index)
	}
	return s.frames[index], nil
}

// IsPlaying reports whether a sequence is currently running.
func (s *Sequencer) IsPlaying() bool { return s.playing.Load() }

// tryStartPlaying atomically transitions from not-playing to playing,
// reporting false if a sequence was already running. RunSequence calls
// this before doing anything else, closing the race a separate
// IsPlaying check-then-act would leave between two concurrent PLAY
// commands.
func (s *Sequencer) tryStartPlaying() bool {
	return s.playing.CompareAndSwap(false, true)
}

// Stop requests that the running sequence abort at the next iteration.
// It is a no-op if nothing is playing.
func (s *Sequencer) Stop() {
	s.abort.Store(true)
}

// Feedback reports per-axis positions for the FEEDBACK command.
func (s *Sequencer) Feedback() proto.Feedback {
	var f proto.Feedback
	f.NumAxes = uint8(s.cfg.ActiveAxes)
	if s.playing.Load() {
		f.Flags |= proto.FeedbackFlagPlaying
	}
	for i := 0; i < int(s.cfg.ActiveAxes) && i < proto.NumAxes; i++ {
		ticks, ok := s.axis.ReadEncoder(i + 1)
		if !ok {
			f.Positions[i] = proto.NoReading
			continue
		}
		f.Positions[i] = int16(ticks)
	}
	return f
}

// IsInStartPosition reports whether every active axis is already within
// startPositionTolerance ticks of keyframe 0's target.
func (s *Sequencer) IsInStartPosition() bool {
	if len(s.frames) == 0 {
		return true
	}
	target := s.frames[0]
	for i := 0; i < int(s.cfg.ActiveAxes) && i < proto.NumAxes; i++ {
		enc, ok := s.axis.ReadEncoder(i + 1)
		if !ok {
			return false
		}
		diff := int32(target.Ticks[i]) - enc
		if abs32(diff) >= startPositionTolerance {
			return false
		}
	}
	return true
}

// DoStartKeyframe drives every active axis toward keyframe 0 at a
// conservative velocity, succeeding once the position has been
// observed within tolerance for requiredConsecutiveHits consecutive
// iterations, or failing after startKeyframeTimeoutMs.
func (s *Sequencer) DoStartKeyframe() error {
	if len(s.frames) == 0 {
		return nil
	}
	target := s.frames[0]
	dl := newDeadline(s.clock, startKeyframeTimeoutMs)
	hits := 0

	for !dl.reached(s.clock) {
		inPosition := true
		for i := 0; i < int(s.cfg.ActiveAxes) && i < proto.NumAxes; i++ {
			velocity := int32(s.cfg.EncToMot[i]) * startKeyframeVelocityPct / 256
			if err := s.axis.SetDestination(i+1, int32(target.Ticks[i])); err != nil {
				return err
			}
			if err := s.axis.SetVelocity(i+1, velocity); err != nil {
				return err
			}
			enc, ok := s.axis.ReadEncoder(i + 1)
			if !ok || abs32(int32(target.Ticks[i])-enc) >= startPositionTolerance {
				inPosition = false
			}
		}
		if inPosition {
			hits++
			if hits >= requiredConsecutiveHits {
				return nil
			}
		} else {
			hits = 0
		}
		s.clock.Tick()
	}
	return ErrInitialisationFailed
}

// ApplyMotion implements the MOTION command: set each active axis's
// destination and velocity directly, then apply the output command,
// bypassing the keyframe timeline entirely. Rejected while a sequence
// is playing, since it would fight the playback loop for the bus.
func (s *Sequencer) ApplyMotion(m proto.Motion) error {
	if s.playing.Load() {
		return ErrPlaying
	}
	n := int(m.NumAxes)
	if n > proto.NumAxes {
		n = proto.NumAxes
	}
	for i := 0; i < n; i++ {
		if err := s.axis.SetDestination(i+1, int32(m.Ticks[i])); err != nil {
			return err
		}
		if err := s.axis.SetVelocity(i+1, int32(m.Velocity[i])); err != nil {
			return err
		}
	}
	s.applyOutput(m.OutputCommand)
	return nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
