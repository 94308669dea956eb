package main

import (
	"io"
	"log"
	"time"

	"github.com/mxschwarz/robolink/pkg/busdriver"
	"github.com/mxschwarz/robolink/pkg/device"
	"github.com/mxschwarz/robolink/pkg/dispatcher"
	"github.com/mxschwarz/robolink/pkg/gpio"
	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/sequencer"
	"github.com/mxschwarz/robolink/pkg/transport"
)

// deviceLoop holds everything the main loop touches: the two serial
// links (PC-facing and bus-facing), the bus driver and GPIO controller
// built on top of them, and the sequencer/dispatcher pair that owns
// playback state. It is the Go analogue of main.cpp's global state
// plus its single main() loop. host and bus are deliberately two
// distinct stacks (go.bug.st/serial versus jacobsa/go-serial) so
// neither link's handle is reachable from the other's code path.
type deviceLoop struct {
	host *transport.Link
	bus  io.ReadWriteCloser
	dir  gpio.OutputPin

	drv  *busdriver.Driver
	ctl  *gpio.Controller
	seq  *sequencer.Sequencer
	disp *dispatcher.Dispatcher
	det  *transport.Detector

	axes []int
}

// Run never returns under normal operation; it loops forever servicing
// the start button and the PC-facing passthrough link, matching
// main.cpp's for(;;).
func (d *deviceLoop) Run() {
	buf := make([]byte, 64)
	for {
		pressed, err := d.ctl.ButtonPressed()
		if err != nil {
			log.Printf("robolink-device: button read: %v", err)
		} else if pressed {
			d.handleButton()
			continue
		}

		n, err := d.host.Read(buf)
		if err != nil {
			log.Printf("robolink-device: host read: %v", err)
			continue
		}
		if n == 0 {
			d.relayBusToHost()
			continue
		}

		for _, b := range buf[:n] {
			forward, matched := d.det.Push(b)
			if matched {
				d.runExtendedSession()
				d.det.Reset()
				continue
			}
			if len(forward) > 0 {
				d.forwardToBus(forward)
			}
		}
		d.relayBusToHost()
	}
}

// forwardToBus writes bytes straight onto the RS-485 bus, switching
// the transceiver to transmit for the duration, matching main.cpp's
// rs485_setDir(RS485_OUT) bracket around the passthrough write.
func (d *deviceLoop) forwardToBus(b []byte) {
	dir := rs485Direction{pin: d.dir}
	if err := dir.SetTransmit(true); err != nil {
		log.Printf("robolink-device: bus direction out: %v", err)
		return
	}
	time.Sleep(busdriver.DirectionSettle)
	if _, err := d.bus.Write(b); err != nil {
		log.Printf("robolink-device: bus write: %v", err)
	}
	time.Sleep(busdriver.DirectionSettle)
	if err := dir.SetTransmit(false); err != nil {
		log.Printf("robolink-device: bus direction in: %v", err)
	}
}

// relayBusToHost forwards whatever the RS-485 bus has for the PC link
// right now, the Go analogue of ISR(USART3_RX_vect)'s g_passthrough
// branch. The bus link's read timeout bounds how long this blocks.
func (d *deviceLoop) relayBusToHost() {
	buf := make([]byte, 64)
	n, err := d.bus.Read(buf)
	if err != nil || n == 0 {
		return
	}
	if _, err := d.host.Write(buf[:n]); err != nil {
		log.Printf("robolink-device: host write: %v", err)
	}
}

// handleButton runs one button-branch iteration: bring-up on first
// press, drive to the start pose, or play the committed sequence once
// through, matching main.cpp's io_button() branch. Passthrough is
// suspended for the duration the way uart_setPassthroughEnabled(false)
// suspends it, since the bus driver needs exclusive use of the link.
func (d *deviceLoop) handleButton() {
	bringUp := device.NewBringUp(d.drv, d.axes)
	err := d.seq.HandleButton(bringUp.Run, nil)
	if err != nil {
		log.Printf("robolink-device: button handling: %v", err)
	}
}

// runExtendedSession services dispatcher commands until an EXIT packet
// or the idle timeout, matching commands.cpp's handleCommands.
func (d *deviceLoop) runExtendedSession() {
	d.disp.Reset()
	initReply := d.disp.Handle(proto.Packet{Command: proto.CmdInit})
	if _, err := d.host.Write(mustEncode(initReply.Command, initReply.Payload)); err != nil {
		log.Printf("robolink-device: extended mode ack: %v", err)
		return
	}

	dec := proto.NewDecoder()
	buf := make([]byte, 64)
	deadline := time.Now().Add(dispatcher.IdleTimeout)

	for time.Now().Before(deadline) {
		n, err := d.host.Read(buf)
		if err != nil {
			log.Printf("robolink-device: extended mode read: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		for _, b := range buf[:n] {
			pkt, ok := dec.Push(b)
			if !ok {
				continue
			}
			deadline = time.Now().Add(dispatcher.IdleTimeout)

			reply := d.disp.Handle(pkt)
			if reply.Send {
				frame := mustEncode(reply.Command, reply.Payload)
				if _, err := d.host.Write(frame); err != nil {
					log.Printf("robolink-device: extended mode write: %v", err)
					return
				}
			}
			if d.disp.QuitRequested() {
				return
			}
		}
	}
}

// mustEncode panics on an oversized payload, which handleCommand's
// reply types never produce: every *.Marshal() result fits proto's
// fixed wire layout.
func mustEncode(cmd proto.Command, payload []byte) []byte {
	frame, err := proto.Encode(cmd, payload)
	if err != nil {
		panic(err)
	}
	return frame
}
