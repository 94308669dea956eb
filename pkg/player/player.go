// Package player is the host-side real-time keyframe interpolator
// used when the host drives playback directly over a live connection,
// without committing a sequence to the microcontroller. It mirrors
// KeyframePlayer's build phase (linked timeline, L∞ segment timing)
// and step phase (adaptive per-joint velocity, interpolation).
package player

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mxschwarz/robolink/pkg/keyframe"
)

// SampleRate is the step-phase frequency, matching MOTIONSAMPLERATE.
const SampleRate = 50.0

// DefaultSpeedLimit is the maximum joint velocity in rad/s, matching
// SERVOSPEEDMAX.
const DefaultSpeedLimit = 4.0

// item is one node of the built timeline.
type item struct {
	angles       map[string]float64
	velocity     map[string]float64
	relativeTime float64
	absoluteTime float64
	output       keyframe.OutputCommand
	next         *item
}

// Player drives one timeline through real-time playback. The zero
// value is not usable; construct with New.
type Player struct {
	SpeedLimit               float64
	TimeCorrection           float64
	VelocityAdaptionStrength float64
	Interpolating            bool
	VelocityAdaption         bool
	Looped                   bool

	head    *item
	current *item

	sliderPosition float64

	txAngles     map[string]float64
	txVelocities map[string]float64
	txCorrection map[string]float64
	rxAngles     map[string]float64
}

// New builds a Player with the reference defaults: 4 rad/s speed
// limit, 0.08s time correction, 0.15 adaption strength, snapping
// (non-interpolating) target angles, velocity adaption enabled.
func New() *Player {
	return &Player{
		SpeedLimit:               DefaultSpeedLimit,
		TimeCorrection:           0.08,
		VelocityAdaptionStrength: 0.15,
		VelocityAdaption:         true,
	}
}

// Sample is one step phase output: the commanded angle and velocity
// per joint.
type Sample struct {
	Angles     map[string]float64
	Velocities map[string]float64
	Output     keyframe.OutputCommand
	Finished   bool
}

// TimelineItem is one node of the built timeline, exposed read-only
// for callers (pkg/uploader) that need the build phase's segment
// timing without running the step phase at all.
type TimelineItem struct {
	Angles       map[string]float64
	RelativeTime float64
	Output       keyframe.OutputCommand
}

// Timeline walks the linked list Build produced and returns it as a
// plain slice, in playback order. Callers that want a sequence to
// loop on the device should build with Looped false and pass the
// device's own loop flag instead, since Build appends a literal
// wrap-to-start segment here when Looped is true.
func (p *Player) Timeline() []TimelineItem {
	var out []TimelineItem
	for node := p.head; node != nil; node = node.next {
		out = append(out, TimelineItem{
			Angles:       cloneAngles(node.angles),
			RelativeTime: node.relativeTime,
			Output:       node.output,
		})
	}
	return out
}

// Build converts an ordered keyframe list into the linked timeline
// the step phase walks. Fewer than two frames is a no-op, matching
// the reference guard (a single pose has nothing to play towards).
func (p *Player) Build(frames []keyframe.Keyframe) error {
	if len(frames) < 2 {
		return nil
	}

	p.sliderPosition = 0
	p.txAngles = cloneAngles(frames[0].Angles)
	p.txVelocities = make(map[string]float64, len(frames[0].Angles))
	p.txCorrection = make(map[string]float64, len(frames[0].Angles))
	for name := range frames[0].Angles {
		p.txVelocities[name] = p.SpeedLimit
		p.txCorrection[name] = 1.0
	}

	head := &item{angles: cloneAngles(frames[0].Angles), output: frames[0].Output}
	current := head

	for i := 0; i < len(frames); i++ {
		if frames[i].Pause > 0 {
			it := &item{
				angles:       cloneAngles(frames[i].Angles),
				relativeTime: frames[i].Pause,
				absoluteTime: current.absoluteTime + frames[i].Pause,
			}
			current.next = it
			current = it
		}

		if i == len(frames)-1 {
			break
		}

		t, err := segmentTime(frames[i], frames[i+1], p.SpeedLimit)
		if err != nil {
			return err
		}
		it := &item{
			angles:       cloneAngles(frames[i+1].Angles),
			relativeTime: t,
			absoluteTime: current.absoluteTime + t,
			output:       frames[i+1].Output,
		}
		current.next = it
		current = it
	}

	if p.Looped {
		t, err := segmentTime(frames[len(frames)-1], frames[0], p.SpeedLimit)
		if err != nil {
			return err
		}
		it := &item{
			angles:       cloneAngles(frames[0].Angles),
			relativeTime: t,
			absoluteTime: current.absoluteTime + t,
			output:       frames[0].Output,
		}
		current.next = it
		current = it
	}

	for node := head; node.next != nil; node = node.next {
		next := node.next
		node.velocity = make(map[string]float64, len(node.angles))
		for name, angle := range node.angles {
			delta := next.angles[name] - angle
			if delta == 0 || next.relativeTime == 0 {
				node.velocity[name] = p.SpeedLimit
			} else {
				node.velocity[name] = math.Abs(delta / next.relativeTime)
			}
		}
		if next == head {
			break
		}
	}

	p.head = head
	p.current = head
	return nil
}

// segmentTime is the L∞ norm across joints divided by the
// speed-scaled limit, so the slowest joint sets the segment duration.
func segmentTime(from, to keyframe.Keyframe, speedLimit float64) (float64, error) {
	if to.Speed <= 0 {
		return 0, fmt.Errorf("player: keyframe speed must be > 0, got %d", to.Speed)
	}
	dist := math.Abs(keyframe.Keyframe{Angles: from.Angles}.Distance(keyframe.Keyframe{Angles: to.Angles}))
	return dist / (0.01 * float64(to.Speed) * speedLimit), nil
}

func cloneAngles(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// JointAnglesIn feeds measured joint angles back into the player so
// the next Step call adapts per-joint velocity to correct drift
// between commanded and actual position.
func (p *Player) JointAnglesIn(rx map[string]float64) {
	p.rxAngles = rx
	if p.current == nil {
		return
	}
	if p.current.next != nil && p.VelocityAdaption {
		for name := range p.head.angles {
			deltaS := math.Abs(p.txAngles[name] - rx[name])
			deltaT := p.current.next.absoluteTime - p.sliderPosition + p.TimeCorrection
			lo := 1.0 - p.VelocityAdaptionStrength
			hi := 1.0 + p.VelocityAdaptionStrength
			factor := deltaS / (deltaT * p.txVelocities[name])
			p.txCorrection[name] = clamp(factor, lo, hi)
		}
	} else {
		for name := range p.head.angles {
			p.txCorrection[name] = 1.0
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Step advances the slider by dt and returns the resulting sample.
// Calling Step after Build has produced fewer than two items is a
// no-op returning a zero Sample.
func (p *Player) Step(dt time.Duration) Sample {
	if p.head == nil || p.current == nil {
		return Sample{}
	}

	p.sliderPosition += dt.Seconds()

	for p.current.next != nil && p.current.next.absoluteTime < p.sliderPosition {
		p.current = p.current.next
	}

	if p.current.next == nil {
		p.txAngles = cloneAngles(p.current.angles)
		for name := range p.txVelocities {
			p.txVelocities[name] = p.SpeedLimit
		}
		if p.Looped {
			p.sliderPosition -= p.current.absoluteTime
			p.current = p.head
			return Sample{Angles: cloneAngles(p.txAngles), Velocities: cloneMap(p.txVelocities), Output: p.current.output}
		}
		return Sample{Angles: cloneAngles(p.txAngles), Velocities: cloneMap(p.txVelocities), Output: p.current.output, Finished: true}
	}

	next := p.current.next
	for name := range p.txAngles {
		jointDistance := next.angles[name] - p.current.angles[name]
		if p.Interpolating && next.relativeTime > 0 {
			weight := clamp((p.sliderPosition-p.current.absoluteTime)/next.relativeTime, 0, 1)
			p.txAngles[name] = p.current.angles[name] + jointDistance*weight
		} else {
			p.txAngles[name] = next.angles[name]
		}

		if jointDistance == 0 || next.relativeTime == 0 {
			p.txVelocities[name] = p.SpeedLimit
		} else {
			p.txVelocities[name] = p.txCorrection[name] * math.Abs(jointDistance/(next.relativeTime+p.TimeCorrection))
		}
	}

	return Sample{Angles: cloneAngles(p.txAngles), Velocities: cloneMap(p.txVelocities), Output: next.output}
}

func cloneMap(src map[string]float64) map[string]float64 { return cloneAngles(src) }

// OutputFunc receives one step-phase sample.
type OutputFunc func(Sample) error

// Run drives the step phase at SampleRate until the timeline
// finishes (never, if Looped) or ctx is cancelled.
func (p *Player) Run(ctx context.Context, out OutputFunc) error {
	period := time.Duration(float64(time.Second) / SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			sample := p.Step(dt)
			if out != nil {
				if err := out(sample); err != nil {
					return err
				}
			}
			if sample.Finished {
				return nil
			}
		}
	}
}
