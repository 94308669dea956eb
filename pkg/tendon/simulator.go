package tendon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mxschwarz/robolink/pkg/ringbuf"
)

// Simulator stands in for one real motor controller on the RS-485 bus,
// answering busdriver's ASCII command set by running this package's own
// zero-finding and position-control state machines instead of talking
// to hardware. It satisfies busdriver.Bus directly, so a test can wire
// a Driver straight to a Simulator and exercise the full command/answer
// round trip, including zero-finding convergence and hold/compliance
// behaviour, without a physical arm on the bench.
//
// Simulator buffers both directions through pkg/ringbuf, the same
// fixed-size queue the device firmware uses between its UART ISR and
// the code that consumes received bytes.
type Simulator struct {
	id int

	state State
	zero  *ZeroFinder
	pos   *PositionController
	comp  *ComplianceController

	encoder     int32
	motorDemand int32
	hallReading int32
	destination int32
	velocity    int32
	holdCurrent int32
	maxCurrent  int32
	programOn   bool

	in  ringbuf.Buffer
	out ringbuf.Buffer
}

// NewSimulator builds a Simulator answering as controller id, starting
// uninitialised with its encoder and Hall reading both at zero.
func NewSimulator(id int) *Simulator {
	return &Simulator{
		id:    id,
		state: StateUninitialised,
		zero:  NewZeroFinder(),
		pos:   &PositionController{},
		comp:  &ComplianceController{},
	}
}

// SetHallReading feeds the simulated Hall-sensor analog value the
// zero-finder sees on its next Tick, letting a test script the sweep's
// edge crossings deterministically.
func (s *Simulator) SetHallReading(v int32) { s.hallReading = v }

// Encoder returns the simulator's current encoder position.
func (s *Simulator) Encoder() int32 { return s.encoder }

// State returns the controller's current pause-register state.
func (s *Simulator) State() State { return s.state }

// Write feeds bytes as if they had just arrived over the bus. Every
// complete CR-terminated command is parsed and answered immediately,
// matching the real controller's half-duplex turnaround on the same
// line it read from.
func (s *Simulator) Write(p []byte) (int, error) {
	n := s.in.PutData(p)
	s.drainCommands()
	return n, nil
}

// Read drains whatever reply bytes are pending for this controller.
func (s *Simulator) Read(p []byte) (int, error) {
	i := 0
	for i < len(p) {
		b, ok := s.out.Get()
		if !ok {
			break
		}
		p[i] = b
		i++
	}
	return i, nil
}

func (s *Simulator) drainCommands() {
	var line []byte
	for {
		b, ok := s.in.Get()
		if !ok {
			return
		}
		if b == '\r' {
			if reply := s.handle(string(line)); reply != "" {
				s.out.PutData([]byte(reply + "\r"))
			}
			line = line[:0]
			continue
		}
		line = append(line, b)
	}
}

// handle answers one command body (without its trailing CR), matching
// the register set busdriver.Driver issues. Accepted writes are echoed
// back as "<id><reg><value>". An empty return means the command was
// addressed to another id or names a register the simulator lacks.
func (s *Simulator) handle(cmd string) string {
	body, ok := strings.CutPrefix(cmd, "#")
	if !ok {
		return ""
	}
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	if i == 0 {
		return ""
	}
	id, err := strconv.Atoi(body[:i])
	if err != nil || id != s.id {
		return ""
	}
	reg := body[i:]
	echo := fmt.Sprintf("%d%s", id, reg)

	switch {
	case reg == "ZP":
		return fmt.Sprintf("%dZP%s", id, signed(int32(s.state)))
	case reg == "(JA":
		s.programOn = true
		return echo
	case reg == "P":
		return fmt.Sprintf("%dP%s", id, signed(int32(s.state)))
	case strings.HasPrefix(reg, "P"):
		if n, err := strconv.Atoi(reg[1:]); err == nil {
			s.setState(RequestState(uint8(n)))
		}
		return echo
	case reg == "I":
		return fmt.Sprintf("%dI%s", id, signed(s.encoder))
	case reg == "s":
		return fmt.Sprintf("%ds%s", id, signed(s.motorDemand))
	case strings.HasPrefix(reg, "n"):
		if n, err := strconv.Atoi(reg[1:]); err == nil {
			s.destination = int32(n)
		}
		return echo
	case strings.HasPrefix(reg, "o"):
		if n, err := strconv.Atoi(reg[1:]); err == nil {
			s.velocity = int32(n)
		}
		return echo
	case strings.HasPrefix(reg, "r"):
		if n, err := strconv.Atoi(reg[1:]); err == nil {
			s.holdCurrent = int32(n)
		}
		return echo
	case strings.HasPrefix(reg, "i"):
		if n, err := strconv.Atoi(reg[1:]); err == nil {
			s.maxCurrent = int32(n)
		}
		return echo
	}
	return ""
}

func (s *Simulator) setState(n State) {
	s.state = n
	switch n {
	case StateSearching:
		s.zero = NewZeroFinder()
	case StateCompliance:
		s.comp = &ComplianceController{}
	}
}

// Tick advances the simulated motor by one control-loop step, the Go
// analogue of the real controller's periodic ISR. A test calls this
// between Write calls to let zero-finding or position control converge
// instead of jumping straight to the commanded position.
func (s *Simulator) Tick() {
	switch s.state {
	case StateSearching:
		drive := s.zero.Step(s.encoder, s.hallReading)
		s.advanceMotor(drive)
		if s.zero.Done() {
			s.state = StateIdle
		}
	case StateIdle:
		drive := s.pos.Step(s.destination, s.velocity, s.encoder, s.motorDemand)
		s.advanceMotor(drive)
	case StateCompliance:
		drive := s.comp.Step(s.encoder, s.motorDemand)
		s.motorDemand = drive.Target
	}
}

// advanceMotor steps the simulated encoder toward a drive command,
// capped at its velocity so convergence takes several Ticks, the same
// way a real stepper can't jump straight to a new position.
func (s *Simulator) advanceMotor(drive Drive) {
	s.motorDemand = drive.Target
	delta := drive.Target - s.encoder
	if delta == 0 {
		return
	}
	step := drive.Velocity/10 + 1
	if abs(delta) < step {
		step = abs(delta)
	}
	s.encoder += signOf(delta) * step
}

func signed(v int32) string {
	if v < 0 {
		return strconv.FormatInt(int64(v), 10)
	}
	return "+" + strconv.FormatInt(int64(v), 10)
}
