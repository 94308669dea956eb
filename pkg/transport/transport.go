// Package transport owns the host's serial link to the arm and the
// byte-level passthrough/extended-mode switch the microcontroller's
// passthrough layer performs on every outbound byte.
package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// PortCycle bounds how many candidate ports setPortNumber-style
// retries cycle through before giving up a round, mirroring
// RobotInterface's (portNumber+1) % PORTCYCLE.
const PortCycle = 15

// BaudRate, DataBits, Parity and StopBits are fixed for every robolink
// serial link: 115200 8N1, no handshake.
func portMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Port is the subset of serial.Port the link needs; satisfied by
// *Link's underlying go.bug.st/serial.Port.
type Port interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadTimeout(time.Duration) error
	Close() error
}

// Link is an open serial connection to the arm, 115200 8N1.
type Link struct {
	port Port
	name string
}

// Open opens portName at the fixed robolink serial settings with a
// 200ms read timeout, matching RobotInterface's WaitEvent(200) poll.
func Open(portName string) (*Link, error) {
	port, err := serial.Open(portName, portMode())
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout on %s: %w", portName, err)
	}
	return &Link{port: port, name: portName}, nil
}

// Name returns the port this link was opened on.
func (l *Link) Name() string { return l.name }

func (l *Link) Read(b []byte) (int, error)  { return l.port.Read(b) }
func (l *Link) Write(b []byte) (int, error) { return l.port.Write(b) }
func (l *Link) Close() error                { return l.port.Close() }

// Cycler opens candidate ports in order, advancing to the next one on
// every failed attempt and wrapping its attempt counter at PortCycle,
// the Go analogue of setPortNumber((portNumber+1) % PORTCYCLE).
type Cycler struct {
	candidates []string
	attempt    int
	open       func(string) (*Link, error)
}

// NewCycler builds a cycler over candidates (typically
// serial.GetPortsList()'s result). An empty candidate list is valid;
// Next will always report an error for it.
func NewCycler(candidates []string) *Cycler {
	return &Cycler{candidates: candidates, open: Open}
}

// Next opens the next candidate port, returning its name alongside any
// error so the caller can log which port was tried.
func (c *Cycler) Next() (*Link, string, error) {
	if len(c.candidates) == 0 {
		return nil, "", fmt.Errorf("transport: no candidate ports")
	}
	name := c.candidates[c.attempt%len(c.candidates)]
	c.attempt = (c.attempt + 1) % PortCycle
	link, err := c.open(name)
	return link, name, err
}
