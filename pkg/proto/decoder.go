package proto

// decoderState names the seven states of the packet decoder.
type decoderState uint8

const (
	stateStart decoderState = iota
	stateVersion
	stateCommand
	stateLength
	statePayload
	stateChecksum
	stateEnd
)

// Decoder reassembles packets byte by byte, the way the device's
// passthrough/extended-mode layer consumes its ring buffer. It resets to
// stateStart on any mismatch rather than returning an error, mirroring
// the device firmware: a malformed byte just means "keep looking for a
// header".
type Decoder struct {
	state   decoderState
	command Command
	length  uint8
	payload []byte
}

// NewDecoder returns a decoder ready to scan for a header.
func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) reset() {
	d.state = stateStart
	d.payload = d.payload[:0]
}

// Push feeds one byte into the decoder. It returns a complete packet and
// true once a full, checksum-valid, correctly terminated packet has been
// assembled; otherwise it returns ok=false and the decoder retains its
// partial state for the next call.
func (d *Decoder) Push(b byte) (pkt Packet, ok bool) {
	switch d.state {
	case stateStart:
		if b == StartByte {
			d.state = stateVersion
		}
	case stateVersion:
		if b == Version {
			d.state = stateCommand
		} else {
			d.reset()
		}
	case stateCommand:
		d.command = Command(b)
		if d.command.Valid() {
			d.state = stateLength
		} else {
			d.reset()
		}
	case stateLength:
		d.length = b
		d.payload = make([]byte, 0, d.length)
		if d.length == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.payload = append(d.payload, b)
		if uint8(len(d.payload)) == d.length {
			d.state = stateChecksum
		}
	case stateChecksum:
		want := Checksum(d.command, d.length, d.payload)
		if b == want {
			d.state = stateEnd
		} else {
			d.reset()
		}
	case stateEnd:
		if b == Terminator {
			pkt = Packet{Command: d.command, Payload: append([]byte(nil), d.payload...)}
			ok = true
		}
		d.reset()
		return pkt, ok
	}
	return Packet{}, false
}

// PushBytes feeds a slice of bytes, invoking fn for every packet decoded
// along the way.
func (d *Decoder) PushBytes(data []byte, fn func(Packet)) {
	for _, b := range data {
		if pkt, ok := d.Push(b); ok {
			fn(pkt)
		}
	}
}
