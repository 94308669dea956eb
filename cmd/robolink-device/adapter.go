package main

import (
	"log"
	"os"

	"github.com/mxschwarz/robolink/pkg/busdriver"
	"github.com/mxschwarz/robolink/pkg/gpio"
	"github.com/mxschwarz/robolink/pkg/proto"
)

// busAxisIO adapts a *busdriver.Driver's int-based register calls to
// the int32/ok shape sequencer.AxisIO wants.
type busAxisIO struct {
	drv *busdriver.Driver
}

func (b busAxisIO) ReadEncoder(axisID int) (int32, bool) {
	v, err := b.drv.ReadEncoder(axisID)
	if err != nil {
		return 0, false
	}
	return int32(v) + proto.PositionBias, true
}

func (b busAxisIO) SetDestination(axisID int, destTicks int32) error {
	return b.drv.SetDestination(axisID, int(destTicks))
}

func (b busAxisIO) SetVelocity(axisID int, velocity int32) error {
	return b.drv.SetVelocity(axisID, int(velocity))
}

// rs485Direction adapts a plain gpio.OutputPin (the transceiver's
// driver-enable pin) to busdriver.DirectionSetter: enable==true means
// transmitting, matching RS485_OUT.
type rs485Direction struct {
	pin gpio.OutputPin
}

func (d rs485Direction) SetTransmit(enable bool) error {
	if d.pin == nil {
		return nil
	}
	return d.pin.Set(enable)
}

// processReboot implements the RESET packet's authorised-key branch.
// main.cpp jumps straight back into the bootloader; there's no
// bootloader to jump into here, so this exits instead and relies on a
// process supervisor to restart the binary.
type processReboot struct{}

func (processReboot) Reboot() {
	log.Println("robolink-device: authorised reset, exiting for supervisor restart")
	os.Exit(0)
}
