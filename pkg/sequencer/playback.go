package sequencer

import (
	"github.com/mxschwarz/robolink/pkg/gpio"
	"github.com/mxschwarz/robolink/pkg/proto"
)

// PollFunc is invoked after every per-axis pass of the playback loop so
// the command dispatcher gets a chance to service inbound host
// commands (spec.md §4.6: "Service inbound commands after every axis
// pass"). It returns true to request an immediate abort.
type PollFunc func() bool

// RunSequence plays the in-RAM sequence, starting at keyframe 1 (index
// 0 is the starting pose). Matching motion_runSequence, it first checks
// whether the arm is already at the start keyframe; if not, it drives
// there and fails with ErrInitialisationFailed if that move doesn't
// settle in time. In loop mode, running off
// the last keyframe synchronises with any peer arms sharing the sync
// line and restarts at keyframe 1.
func (s *Sequencer) RunSequence(loop bool, poll PollFunc) error {
	if len(s.frames) < 2 {
		return nil
	}

	if !s.tryStartPlaying() {
		return ErrPlaying
	}
	s.abort.Store(false)
	defer s.playing.Store(false)

	if !s.IsInStartPosition() {
		if err := s.DoStartKeyframe(); err != nil {
			return err
		}
	}
	if s.abort.Load() {
		return nil
	}

	activeAxes := int(s.cfg.ActiveAxes)
	if activeAxes > proto.NumAxes {
		activeAxes = proto.NumAxes
	}

	windows := make([]axisWindow, activeAxes)
	idx := make([]int, activeAxes)
	for axis := range windows {
		windows[axis] = axisWindow{
			from:     int32(s.frames[0].Ticks[axis]) - proto.PositionBias,
			to:       int32(s.frames[1].Ticks[axis]) - proto.PositionBias,
			duration: s.frames[1].Duration,
		}
		idx[axis] = 1
	}

	for segment := 1; ; segment++ {
		if segment >= len(s.frames) {
			if !loop {
				break
			}
			if err := s.synchronize(); err != nil {
				return err
			}
			segment = 1
		}

		if err := s.runSegment(segment, loop, windows, idx, poll); err != nil {
			return err
		}
		if s.abort.Load() {
			break
		}

		s.applyOutput(s.frames[segment].OutputCommand)
	}
	return nil
}

func (s *Sequencer) synchronize() error {
	if s.sync == nil {
		return nil
	}
	return s.sync.Synchronize(gpio.DefaultSyncParams)
}

func (s *Sequencer) applyOutput(cmd proto.OutputCommand) {
	if s.out == nil || cmd == proto.OutputNop {
		return
	}
	s.out.ApplyOutput(cmd == proto.OutputSet)
}

// runSegment drives every active axis for the duration of one segment,
// re-evaluating the look-ahead correction on every tick.
func (s *Sequencer) runSegment(segment int, loop bool, windows []axisWindow, idx []int, poll PollFunc) error {
	duration := s.frames[segment].Duration
	dl := newDeadline(s.clock, uint32(duration))

	for !dl.reached(s.clock) {
		for axis := range windows {
			deltaMs := dl.delta(s.clock)
			if s.cfg.Lookahead > 0 {
				deltaMs += uint32(s.cfg.Lookahead)
			}

			var newIdx int
			windows[axis], newIdx, deltaMs = advanceWindow(windows[axis], deltaMs, s.frames, axis, idx[axis], loop)
			idx[axis] = newIdx

			encToMot := uint16(0)
			if axis < len(s.cfg.EncToMot) {
				encToMot = s.cfg.EncToMot[axis]
			}

			var dest, velocity int32
			enc, ok := s.axis.ReadEncoder(axis + 1)
			if s.cfg.Lookahead > 0 && ok {
				dest, velocity = lookaheadVelocity(windows[axis], deltaMs, enc-proto.PositionBias, encToMot, uint32(s.cfg.Lookahead))
			} else {
				dest = windows[axis].to
				velocity = fallbackVelocity(encToMot, windows[axis].to-windows[axis].from, windows[axis].duration)
			}

			if err := s.axis.SetDestination(axis+1, dest+proto.PositionBias); err != nil {
				return err
			}
			if err := s.axis.SetVelocity(axis+1, velocity); err != nil {
				return err
			}

			if poll != nil && poll() {
				s.abort.Store(true)
			}
			if s.abort.Load() {
				return nil
			}
		}
		s.clock.Tick()
	}
	return nil
}
