package sequencer

import "github.com/mxschwarz/robolink/pkg/proto"

// axisWindow is one axis's look-ahead segment: the tick range it is
// currently interpolating across and that segment's duration.
type axisWindow struct {
	from     int32
	to       int32
	duration uint16
}

// clampVelocity bounds a computed velocity to the range the firmware
// enforces: never below 100 (the controller stalls below that) and
// never above encToMot*7000/256 (the hardware limit).
func clampVelocity(v int32, encToMot uint16) int32 {
	max := int32(encToMot) * 7000 / 256
	if v < 100 {
		return 100
	}
	if v > max {
		return max
	}
	return v
}

// lookaheadVelocity implements the corrected motor velocity formula:
// given the current window, how far into the future (deltaMs, already
// including the configured lookahead) to project, and the axis's
// current encoder reading, compute the expected future position and
// the velocity that closes the gap within the lookahead window.
func lookaheadVelocity(w axisWindow, deltaMs uint32, encoder int32, encToMot uint16, lookaheadMs uint32) (dest, velocity int32) {
	if w.duration == 0 {
		return w.from, 100
	}
	dest = w.from + int32(int64(deltaMs)*(1000*int64(w.to-w.from)/int64(w.duration))/1000)
	raw := int64(1000) * int64(dest-encoder)
	if lookaheadMs == 0 {
		lookaheadMs = 1
	}
	v := int32(abs64(raw/int64(lookaheadMs)) * int64(encToMot) / 256)
	return dest, clampVelocity(v, encToMot)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// fallbackVelocity is the naive encoder-space velocity used when the
// look-ahead correction can't run (lookahead disabled, or the encoder
// reading for this axis failed).
func fallbackVelocity(encToMot uint16, deltaTicks int32, durationMs uint16) int32 {
	if durationMs == 0 {
		return 100
	}
	v := 1000 * abs64(int64(deltaTicks)) / int64(durationMs) * int64(encToMot) / 256
	return clampVelocity(int32(v), encToMot)
}

// advanceWindow implements the cross-keyframe look-ahead advance: while
// the projection horizon (deltaMs) reaches past the current window's
// duration, slide the window to the next keyframe. In non-loop mode,
// running off the end of the sequence holds the window open (100ms,
// no further motion). In loop mode, running off the end wraps to index
// 1 — not 0, since the zeroth frame is the starting pose, not part of
// the repeating cycle.
func advanceWindow(w axisWindow, deltaMs uint32, frames []proto.Keyframe, axis, idx int, loop bool) (axisWindow, int, uint32) {
	for uint32(w.duration) < deltaMs {
		deltaMs -= uint32(w.duration)
		idx++
		if idx >= len(frames) {
			if loop {
				idx = 1
			} else {
				w.from = w.to
				w.duration = 100
				return w, idx, deltaMs
			}
		}
		w.from = w.to
		w.to = int32(frames[idx].Ticks[axis]) - proto.PositionBias
		w.duration = frames[idx].Duration
		if w.duration == 0 {
			return w, idx, deltaMs
		}
	}
	return w, idx, deltaMs
}
