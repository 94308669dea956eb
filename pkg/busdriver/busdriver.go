// Package busdriver implements the ASCII command/answer protocol spoken
// to each motor controller over the shared half-duplex RS-485 bus. It is
// used by the device sequencer (pkg/sequencer) to drive individual
// axes, and directly by cmd/robolink's console subcommand for bench
// debugging.
package busdriver

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timing constants for the half-duplex RS-485 link: direction is
// switched around each transmission with a DirectionSettle delay.
// ResponseTimeout names the no-reply budget of a fixed number of short
// polling windows; Driver does not apply it itself (see ErrNoReply).
const (
	DirectionSettle = 200 * time.Microsecond
	pollWindow      = 30 * time.Microsecond
	pollCount       = 255
	ResponseTimeout = pollWindow * pollCount
)

// ErrNoReply is returned when no complete reply line arrives: the Bus's
// Read returns an error, or keeps returning no bytes until the buffered
// reader gives up. How long that takes is up to the Bus; Driver does
// not time the wait against ResponseTimeout.
var ErrNoReply = errors.New("busdriver: no reply")

// ErrMalformedReply is returned when a reply is received but does not
// echo the expected id/register.
var ErrMalformedReply = errors.New("busdriver: malformed reply")

// Bus is the half-duplex serial link. Writes and reads happen on the
// same underlying connection; RS-485 direction switching is delegated to
// an optional DirectionSetter.
type Bus interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
}

// DirectionSetter toggles RS-485 driver direction. Implementations must
// be safe to call from Driver's single goroutine-at-a-time chat loop;
// Driver never calls it concurrently.
type DirectionSetter interface {
	SetTransmit(enable bool) error
}

// Driver serialises ASCII command/answer exchanges with every
// controller on the bus.
type Driver struct {
	mu  sync.Mutex
	bus Bus
	dir DirectionSetter
	r   *bufio.Reader
}

// New wraps bus (and, if non-nil, the RS-485 direction control dir) in a
// Driver.
func New(bus Bus, dir DirectionSetter) *Driver {
	return &Driver{bus: bus, dir: dir, r: bufio.NewReader(readerFunc(bus.Read))}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// chat sends cmd (without its trailing CR, which is added here) and
// reads a single CR-terminated response line, or ErrNoReply if the bus
// stays silent.
func (d *Driver) chat(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dir != nil {
		if err := d.dir.SetTransmit(true); err != nil {
			return "", fmt.Errorf("busdriver: direction to transmit: %w", err)
		}
		time.Sleep(DirectionSettle)
	}

	if _, err := d.bus.Write([]byte(cmd + "\r")); err != nil {
		return "", fmt.Errorf("busdriver: write: %w", err)
	}

	if d.dir != nil {
		if err := d.dir.SetTransmit(false); err != nil {
			return "", fmt.Errorf("busdriver: direction to receive: %w", err)
		}
		time.Sleep(DirectionSettle)
	}

	line, err := d.readLine()
	if err != nil {
		return "", err
	}
	return line, nil
}

func (d *Driver) readLine() (string, error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return "", ErrNoReply
	}
	var sb strings.Builder
	sb.WriteByte(first)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return "", ErrNoReply
		}
		if b == '\r' {
			return sb.String(), nil
		}
		sb.WriteByte(b)
		if sb.Len() > 64 {
			return "", ErrMalformedReply
		}
	}
}

// Ping sends "#<id>ZP\r" and returns the controller's state, or
// ErrNoReply if the axis is absent from the bus.
func (d *Driver) Ping(id int) (int, error) {
	reply, err := d.chat(fmt.Sprintf("#%dZP", id))
	if err != nil {
		return 0, err
	}
	return parseReply(reply, id, "ZP")
}

// ReadState reads register P (controller state).
func (d *Driver) ReadState(id int) (int, error) {
	reply, err := d.chat(fmt.Sprintf("#%dP", id))
	if err != nil {
		return 0, err
	}
	return parseReply(reply, id, "P")
}

// ReadEncoder reads register I (encoder position).
func (d *Driver) ReadEncoder(id int) (int, error) {
	reply, err := d.chat(fmt.Sprintf("#%dI", id))
	if err != nil {
		return 0, err
	}
	return parseReply(reply, id, "I")
}

// ReadCommandPosition reads register s (commanded motor position).
func (d *Driver) ReadCommandPosition(id int) (int, error) {
	reply, err := d.chat(fmt.Sprintf("#%ds", id))
	if err != nil {
		return 0, err
	}
	return parseReply(reply, id, "s")
}

// SetState writes register P.
func (d *Driver) SetState(id, state int) error {
	_, err := d.chat(fmt.Sprintf("#%dP%d", id, state))
	return err
}

// SetDestination writes register n (target encoder-biased position).
func (d *Driver) SetDestination(id, dest int) error {
	_, err := d.chat(fmt.Sprintf("#%dn%d", id, dest))
	return err
}

// SetVelocity writes register o.
func (d *Driver) SetVelocity(id, velocity int) error {
	_, err := d.chat(fmt.Sprintf("#%do%d", id, velocity))
	return err
}

// SetHoldCurrent writes register r (current applied while holding).
func (d *Driver) SetHoldCurrent(id, current int) error {
	_, err := d.chat(fmt.Sprintf("#%dr%d", id, current))
	return err
}

// SetMaxCurrent writes register i (current applied while driving).
func (d *Driver) SetMaxCurrent(id, current int) error {
	_, err := d.chat(fmt.Sprintf("#%di%d", id, current))
	return err
}

// StartProgram issues "(JA", starting the per-joint control program.
func (d *Driver) StartProgram(id int) error {
	_, err := d.chat(fmt.Sprintf("#%d(JA", id))
	return err
}

// Raw sends an arbitrary register/value pair, for cmd/robolink's
// console subcommand.
func (d *Driver) Raw(id int, reg string, value string) (string, error) {
	cmd := fmt.Sprintf("#%d%s%s", id, reg, value)
	return d.chat(cmd)
}

// parseReply expects reply to echo "<id><reg><value>" and extracts the
// trailing integer value.
func parseReply(reply string, id int, reg string) (int, error) {
	prefix := fmt.Sprintf("%d%s", id, reg)
	rest, ok := strings.CutPrefix(reply, prefix)
	if !ok {
		return 0, fmt.Errorf("%w: got %q, want prefix %q", ErrMalformedReply, reply, prefix)
	}
	rest = strings.TrimPrefix(rest, "+")
	v, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q: %v", ErrMalformedReply, rest, err)
	}
	return v, nil
}
