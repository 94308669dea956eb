package transport

import (
	"fmt"

	"github.com/mxschwarz/robolink/pkg/proto"
)

// Detector watches the outbound passthrough byte stream for an exact
// INIT packet, matching the microcontroller's main loop: bytes that
// extend a partial match are held back; a mismatch flushes everything
// matched so far (plus the mismatching byte itself) to the bus and
// restarts the match from scratch.
type Detector struct {
	pattern []byte
	matched int
}

// NewDetector builds a detector for the literal wire bytes of an INIT
// packet with an empty payload.
func NewDetector() *Detector {
	pattern, err := proto.Encode(proto.CmdInit, nil)
	if err != nil {
		// An empty-payload INIT packet always encodes; this would only
		// fail if proto.Encode's length check changed underneath us.
		panic(fmt.Sprintf("transport: INIT pattern cannot be built: %v", err))
	}
	return &Detector{pattern: pattern}
}

// Push feeds one byte of the passthrough stream to the detector. It
// returns bytes that should be forwarded to the RS-485 bus right away
// (nil while b just extends an in-progress match), and whether the
// full INIT pattern has now been matched, in which case the caller
// switches to extended mode instead of forwarding anything.
func (d *Detector) Push(b byte) (forward []byte, switchToExtended bool) {
	if b == d.pattern[d.matched] {
		d.matched++
		if d.matched == len(d.pattern) {
			d.matched = 0
			return nil, true
		}
		return nil, false
	}

	forward = make([]byte, d.matched+1)
	copy(forward, d.pattern[:d.matched])
	forward[d.matched] = b
	d.matched = 0
	return forward, false
}

// Reset drops any in-progress partial match, used when re-entering
// passthrough mode after extended mode exits.
func (d *Detector) Reset() { d.matched = 0 }
