// Package tendon implements the per-joint tendon controller's control
// program: Hall-sensor zero-finding and closed-loop, cable-tension-aware
// position control. It runs once per motor controller; pkg/busdriver
// talks to a real instance over RS-485, and this package's Simulator
// stands in for one in pkg/busdriver's tests.
package tendon

// State is the controller's pause-register-selected mode.
type State uint8

const (
	StateUninitialised State = 0
	StateSearching     State = 1
	StateIdle          State = 2
	StateCompliance    State = 3
	StatePassive       State = 4
	StateHalted        State = 255 // any register value above StatePassive
)

// RequestState maps a raw pause-register value to a State, halting on
// anything the firmware doesn't recognise.
func RequestState(v uint8) State {
	if v <= uint8(StatePassive) {
		return State(v)
	}
	return StateHalted
}

// Tuning constants from the original firmware's position-control loop.
// EncoderShift is derived from the zero-finding formula
// middle = (edge1+edge2)/4, which the spec describes as "one shift
// gives midpoint, the other converts encoder-scale to motor-scale" —
// two single-bit shifts, so EncoderShift is 1.
const (
	EncoderShift  = 1
	HallThreshold = 580
	SweepStep     = 200
	HoldEnter     = 2 // |delta| below this latches hold
	HoldRelease   = 3 // |delta| at or above this releases hold
	HoldNudge     = 4
	MinDriveStep  = 5
)

// ZeroFinder drives the widening sweep that locates the Hall-sensor
// centre and then homes to it. It is a pure state machine: callers feed
// it the current encoder position and Hall sensor reading on every tick
// and apply the returned drive command.
type ZeroFinder struct {
	start     int32
	started   bool
	width     int32
	direction int32
	edge1Set  bool
	edge1     int32
	edge2Set  bool
	edge2     int32
	homing    bool
	middle    int32
	done      bool
}

// NewZeroFinder starts a sweep outward in the positive direction.
func NewZeroFinder() *ZeroFinder {
	return &ZeroFinder{width: SweepStep, direction: 1}
}

// Drive is a low-level command: a target position and a velocity.
type Drive struct {
	Target   int32
	Velocity int32
}

// Done reports whether zero-finding has located and reached the centre.
func (z *ZeroFinder) Done() bool { return z.done }

// MicrostepOffset returns the low two bits of the reached centre, which
// must be preserved across later position commands.
func (z *ZeroFinder) MicrostepOffset() uint8 {
	return uint8(z.middle) & 0x3
}

// Step advances the zero-finder by one tick given the current encoder
// position and Hall-sensor analog reading, returning the drive command
// to apply next.
func (z *ZeroFinder) Step(encoder, hallReading int32) Drive {
	if z.done {
		return Drive{Target: z.middle, Velocity: 0}
	}
	if !z.started {
		z.started = true
		z.start = encoder
	}

	if z.homing {
		delta := (encoder - z.middle) << (1 - EncoderShift)
		if delta == 0 {
			z.done = true
			return Drive{Target: z.middle, Velocity: 0}
		}
		return Drive{Target: encoder - delta, Velocity: reducedVelocity}
	}

	crossed := hallReading <= HallThreshold
	switch {
	case crossed && !z.edge1Set:
		z.edge1Set = true
		z.edge1 = encoder
		z.direction = -z.direction
		z.width += SweepStep
	case crossed && !z.edge2Set:
		z.edge2Set = true
		z.edge2 = encoder
		z.middle = (z.edge1 + z.edge2) / 4
		z.homing = true
		return Drive{Target: z.middle, Velocity: reducedVelocity}
	case !crossed && !z.edge1Set:
		// The sensor hasn't been found within the current search
		// spread, measured from where this sweep started: reverse
		// direction and widen the spread, matching findCenter's
		// searchSpread handling. Without this, a sensor that lies on
		// the opposite side of the starting position from the initial
		// +1 guess is never found.
		if z.direction*(encoder-z.start) > z.width {
			z.direction = -z.direction
			z.width += SweepStep
		}
	}

	return Drive{Target: encoder + z.direction*z.width, Velocity: reducedVelocity}
}

// reducedVelocity is the sweep/homing speed; zero-finding always runs at
// reduced current and speed relative to normal position control.
const reducedVelocity = 50

// PositionController implements state-2 closed-loop position control
// with the far/close adaptive overshoot rule and the hold sub-state.
type PositionController struct {
	holding     bool
	lastSign    int32
	driveTarget int32
}

// Step computes the next drive target given the host's target encoder
// position (T_enc, biased), target speed, the current encoder reading E
// and the controller's own motor demand M.
func (p *PositionController) Step(targetEnc, targetSpeed, encoder, motorDemand int32) Drive {
	delta := (targetEnc - encoder) >> EncoderShift
	deltaAbs := abs(delta)
	farShift := int32(0)
	if (targetSpeed >> 5) < deltaAbs {
		farShift = 1
	}

	if deltaAbs < HoldEnter && !p.holding {
		p.holding = true
		sign := p.lastSign
		if delta != 0 {
			sign = signOf(delta)
		}
		p.driveTarget = motorDemand + sign*HoldNudge
		return Drive{Target: p.driveTarget, Velocity: targetSpeed}
	}
	if deltaAbs >= HoldRelease {
		p.holding = false
	}
	if delta != 0 {
		p.lastSign = signOf(delta)
	}

	if p.holding {
		return Drive{Target: p.driveTarget, Velocity: targetSpeed}
	}

	target := (delta << farShift) + motorDemand
	target = pushAwayFromZeroDelta(target, motorDemand)
	p.driveTarget = target
	return Drive{Target: target, Velocity: targetSpeed}
}

// pushAwayFromZeroDelta enforces the "never issue a zero-delta start"
// rule: the drive target must differ from the current motor demand by
// at least MinDriveStep whenever it differs at all.
func pushAwayFromZeroDelta(target, motorDemand int32) int32 {
	diff := target - motorDemand
	if diff == 0 {
		return target
	}
	if abs(diff) < MinDriveStep {
		if diff > 0 {
			return motorDemand + MinDriveStep
		}
		return motorDemand - MinDriveStep
	}
	return target
}

// ComplianceController implements the optional state-3 software
// compliance path: it integrates the difference between encoder motion
// (scaled by 2) and motor motion into a cable-tension accumulator and
// feeds it back into the target, letting an operator back-drive the
// joint by hand.
type ComplianceController struct {
	cableTension int32
	lastEncoder  int32
	lastMotor    int32
	initialised  bool
}

// Step advances the compliance controller by one tick.
func (c *ComplianceController) Step(encoder, motorDemand int32) Drive {
	if !c.initialised {
		c.lastEncoder = encoder
		c.lastMotor = motorDemand
		c.initialised = true
		return Drive{Target: motorDemand, Velocity: 0}
	}
	encMotion := (encoder - c.lastEncoder) * 2
	motMotion := motorDemand - c.lastMotor
	c.cableTension += encMotion - motMotion
	c.lastEncoder = encoder
	c.lastMotor = motorDemand
	return Drive{Target: motorDemand + c.cableTension, Velocity: 0}
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func signOf(v int32) int32 {
	if v < 0 {
		return -1
	}
	return 1
}
