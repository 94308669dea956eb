// Package connection drives the host's serial link through the full
// port-search/reset/initialise/extended-mode lifecycle, matching
// RobotInterface's step()/handle_* state machine.
package connection

import (
	"errors"
	"fmt"

	"github.com/mxschwarz/robolink/pkg/busdriver"
	"github.com/mxschwarz/robolink/pkg/connlog"
	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/transport"
)

// errWriteFailed marks a write that reported 0 bytes, the one
// transport error that is fatal on its own rather than counting
// against maxConsecutiveTimeouts.
var errWriteFailed = errors.New("connection: write reported 0 bytes")

// State is a node in the connection lifecycle.
type State int

const (
	PortClosed State = iota
	PortOpen
	RobotConfirmed
	Resetting
	Initialising
	InitialisedStiff
	ExtendedMode
	Playing
)

func (s State) String() string {
	names := [...]string{
		"PortClosed", "PortOpen", "RobotConfirmed", "Resetting",
		"Initialising", "InitialisedStiff", "ExtendedMode", "Playing",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Compliance is the motor-controller drive mode, orthogonal to State:
// it only applies once the link is in ExtendedMode or Playing.
type Compliance int

const (
	Stiff Compliance = iota
	HardwareCompliant
)

// maxPortAttempts bounds retries against a single port before giving
// up and cycling, per PortOpen --no-reply >=15 attempts--> PortClosed.
const maxPortAttempts = 15

// maxConsecutiveTimeouts disconnects after this many back-to-back
// extended-mode exchanges time out.
const maxConsecutiveTimeouts = 10

// AxisJoint describes one axis's bus address and drive currents, as
// loaded from pkg/jointconfig.
type AxisJoint struct {
	Address     int
	HoldCurrent int
	MaxCurrent  int
}

// Link is the byte-stream half of the connection: a live serial port
// or, in tests, a fake. *transport.Link satisfies it.
type Link interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Connection drives the serial link through the full lifecycle for a
// single set of axes.
type Connection struct {
	dial func() (Link, string, error)
	link Link
	bus  *busdriver.Driver
	dec  *proto.Decoder

	joints []AxisJoint
	reset  []bool
	inited []bool
	hwComp []bool

	state               State
	compliance          Compliance
	requestedCompliance Compliance

	portAttempts  int
	noReplyTries  int
	timeoutStreak int

	lastFeedback proto.Feedback

	log *connlog.Logger
}

// SetLogger attaches a transition logger. A nil logger (the default)
// disables logging.
func (c *Connection) SetLogger(log *connlog.Logger) { c.log = log }

func (c *Connection) transitionTo(s State) {
	if c.state != s {
		c.log.Logf("connection: %s -> %s", c.state, s)
	}
	c.state = s
}

// New builds a connection over candidate ports, driving the given
// joints once confirmed.
func New(candidates []string, joints []AxisJoint) *Connection {
	cycler := transport.NewCycler(candidates)
	return &Connection{
		dial: func() (Link, string, error) {
			link, name, err := cycler.Next()
			if err != nil {
				return nil, name, err
			}
			return link, name, nil
		},
		joints: joints,
		reset:  make([]bool, len(joints)),
		inited: make([]bool, len(joints)),
		hwComp: make([]bool, len(joints)),
		state:  PortClosed,
	}
}

// State reports the current lifecycle state.
func (c *Connection) State() State { return c.state }

// ConnectionState reports the current lifecycle state as a string, for
// consumers (pkg/telemetry) that poll across a package boundary without
// depending on the connection package's State type.
func (c *Connection) ConnectionState() string { return c.state.String() }

// LastFeedback reports the most recently decoded FEEDBACK payload. The
// zero value is returned before the link has reached ExtendedMode.
func (c *Connection) LastFeedback() proto.Feedback { return c.lastFeedback }

// RequestCompliance queues a compliance-mode change, applied the next
// time Step runs while in ExtendedMode or Playing.
func (c *Connection) RequestCompliance(mode Compliance) {
	c.requestedCompliance = mode
}

// RequestInit asks the connection to run a full Resetting→Initialising
// cycle, either because the robot hadn't reached "ZP+2" on every axis
// on its own (RobotConfirmed) or to force a re-init of an
// already-stiff link (InitialisedStiff).
func (c *Connection) RequestInit() {
	if c.state == RobotConfirmed || c.state == InitialisedStiff {
		c.transitionTo(Resetting)
		for i := range c.reset {
			c.reset[i] = false
		}
	}
}

// Step runs one iteration of the connection's state machine, advancing
// at most one state transition per call. Callers drive it in a loop,
// the same way RobotInterface::step is the body of the robot thread's
// run loop.
func (c *Connection) Step() error {
	switch c.state {
	case PortClosed:
		return c.openNextPort()
	case PortOpen:
		return c.confirmConnection()
	case RobotConfirmed:
		return c.checkAlreadyInitialised()
	case Resetting:
		return c.resetAxes()
	case Initialising:
		return c.initialiseAxes()
	case InitialisedStiff:
		return c.enterExtendedMode()
	case ExtendedMode, Playing:
		return c.stepExtended()
	}
	return nil
}

func (c *Connection) openNextPort() error {
	link, _, err := c.dial()
	if err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	c.link = link
	c.bus = busdriver.New(link, nil)
	c.dec = proto.NewDecoder()
	c.transitionTo(PortOpen)
	c.portAttempts = 0
	return nil
}

// confirmConnection pings the first axis; a reply means the robot is
// on this port, matching handle_confirmConnection's "#1ZP" probe.
func (c *Connection) confirmConnection() error {
	if len(c.joints) == 0 {
		return fmt.Errorf("connection: no joints configured")
	}
	_, err := c.bus.Ping(c.joints[0].Address)
	if err == nil {
		c.transitionTo(RobotConfirmed)
		return nil
	}

	c.portAttempts++
	if c.portAttempts >= maxPortAttempts {
		return c.disconnect()
	}
	return nil
}

// checkAlreadyInitialised polls ZP on each axis; all axes already at
// state 2 means the robot survived from a previous run and can skip
// straight to InitialisedStiff, matching handle_checkInitialization.
// Otherwise the connection waits here for an explicit RequestInit.
func (c *Connection) checkAlreadyInitialised() error {
	allAtTwo := true
	for _, j := range c.joints {
		state, err := c.bus.Ping(j.Address)
		if err != nil || state != 2 {
			allAtTwo = false
		}
	}
	if allAtTwo {
		for i := range c.inited {
			c.inited[i] = true
		}
		c.transitionTo(InitialisedStiff)
	}
	return nil
}

// resetAxes drives every un-reset axis to state 0 and waits for every
// axis to acknowledge it before advancing to Initialising, matching
// handle_robotReset.
func (c *Connection) resetAxes() error {
	allReset := true
	for i, j := range c.joints {
		if c.reset[i] {
			continue
		}
		if err := c.bus.SetState(j.Address, 0); err != nil {
			allReset = false
			continue
		}
		state, err := c.bus.Ping(j.Address)
		if err != nil || state != 0 {
			allReset = false
			continue
		}
		c.reset[i] = true
	}
	if allReset {
		c.transitionTo(Initialising)
	}
	return nil
}

// initialiseAxes drives P1 on every axis still reporting ZP+0, waiting
// for ZP+2 on all of them, matching handle_initialize.
func (c *Connection) initialiseAxes() error {
	allInitialised := true
	for i, j := range c.joints {
		if c.inited[i] {
			continue
		}
		state, err := c.bus.Ping(j.Address)
		if err != nil {
			allInitialised = false
			continue
		}
		if state == 2 {
			c.inited[i] = true
			continue
		}
		allInitialised = false
		if state == 0 {
			_ = c.bus.SetState(j.Address, 1)
		}
	}
	if allInitialised {
		c.transitionTo(InitialisedStiff)
	}
	return nil
}

// enterExtendedMode sends the INIT packet; an echoed ack snaps the
// link straight to ExtendedMode.
func (c *Connection) enterExtendedMode() error {
	reply, err := c.chat(proto.CmdInit, nil)
	if err != nil {
		return nil // stay in InitialisedStiff, retry next Step
	}
	if reply.Command == proto.CmdInit {
		c.transitionTo(ExtendedMode)
	}
	return nil
}

// stepExtended runs one extended-mode exchange: a motion+feedback
// round trip while idle, a bare feedback poll while playing, and the
// requested compliance transition when one is pending, matching
// handle_checkComplianceMode/handle_extendedMode.
func (c *Connection) stepExtended() error {
	if c.requestedCompliance != c.compliance {
		return c.transitionCompliance()
	}

	var reply proto.Packet
	var err error
	if c.state == Playing {
		reply, err = c.chat(proto.CmdFeedback, nil)
	} else {
		m := proto.Motion{NumAxes: uint8(len(c.joints))}
		for i := range c.joints {
			m.Ticks[i] = proto.PositionBias
			m.Velocity[i] = 1
		}
		reply, err = c.chat(proto.CmdMotion, m.Marshal())
	}
	if err != nil {
		if errors.Is(err, errWriteFailed) {
			return c.disconnect()
		}
		c.timeoutStreak++
		if c.timeoutStreak >= maxConsecutiveTimeouts {
			return c.disconnect()
		}
		c.transitionTo(InitialisedStiff)
		return nil
	}
	c.timeoutStreak = 0

	fb, err := proto.UnmarshalFeedback(reply.Payload)
	if err != nil {
		return nil
	}
	c.lastFeedback = fb
	switch {
	case c.state == InitialisedStiff && fb.Playing():
		c.transitionTo(Playing)
	case c.state == Playing && !fb.Playing():
		c.transitionTo(ExtendedMode)
	case c.state == ExtendedMode && fb.Playing():
		c.transitionTo(Playing)
	}
	return nil
}

// transitionCompliance drives the stiff/hardware-compliant switch:
// exit extended mode, push the requested current registers to every
// axis, then re-enter extended mode, matching
// handle_checkComplianceMode. There is no timeout: axes that have not
// taken the new currents are retried on every later Step, with no limit
// on the number of attempts.
func (c *Connection) transitionCompliance() error {
	if _, err := c.chat(proto.CmdExit, nil); err != nil {
		return nil
	}

	target := c.requestedCompliance
	allDone := true
	for i, j := range c.joints {
		if (target == HardwareCompliant) == c.hwComp[i] {
			continue
		}
		var hold, max int
		if target == HardwareCompliant {
			hold, max = 0, 0
		} else {
			hold, max = j.HoldCurrent, j.MaxCurrent
		}
		if err := c.bus.SetHoldCurrent(j.Address, hold); err != nil {
			allDone = false
			continue
		}
		if err := c.bus.SetMaxCurrent(j.Address, max); err != nil {
			allDone = false
			continue
		}
		c.hwComp[i] = target == HardwareCompliant
	}

	if _, err := c.chat(proto.CmdInit, nil); err != nil {
		return nil
	}
	if allDone {
		c.compliance = target
	}
	return nil
}

// disconnect drops back to PortClosed and resets every axis's
// reset/initialised bookkeeping, matching disconnectRobot.
func (c *Connection) disconnect() error {
	if c.link != nil {
		c.link.Close()
	}
	c.link = nil
	c.bus = nil
	c.dec = nil
	for i := range c.joints {
		c.reset[i] = false
		c.inited[i] = false
		c.hwComp[i] = false
	}
	c.compliance = Stiff
	c.requestedCompliance = Stiff
	c.portAttempts = 0
	c.noReplyTries = 0
	c.timeoutStreak = 0
	c.transitionTo(PortClosed)
	return nil
}

// Chat sends one extended-mode packet and waits for its reply,
// bypassing the Step loop entirely. The uploader uses this to hold
// the link exclusively for the duration of a transfer; callers must
// only use it while in ExtendedMode, with no concurrent Step calls.
func (c *Connection) Chat(cmd proto.Command, payload []byte) (proto.Packet, error) {
	return c.chat(cmd, payload)
}

// chat frames and sends one extended-mode packet and decodes the
// reply, or transport.ErrNoReply-equivalent on silence.
func (c *Connection) chat(cmd proto.Command, payload []byte) (proto.Packet, error) {
	frame, err := proto.Encode(cmd, payload)
	if err != nil {
		return proto.Packet{}, err
	}
	if n, err := c.link.Write(frame); err != nil {
		return proto.Packet{}, fmt.Errorf("connection: write: %w", err)
	} else if n == 0 {
		return proto.Packet{}, errWriteFailed
	}

	buf := make([]byte, 64)
	for {
		n, err := c.link.Read(buf)
		if err != nil {
			return proto.Packet{}, fmt.Errorf("connection: read: %w", err)
		}
		if n == 0 {
			return proto.Packet{}, fmt.Errorf("connection: no reply")
		}
		for _, b := range buf[:n] {
			if pkt, ok := c.dec.Push(b); ok {
				return pkt, nil
			}
		}
	}
}
