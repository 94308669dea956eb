package main

import (
	"fmt"
	"io"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/mxschwarz/robolink/pkg/busdriver"
)

// openBusLink opens the device's RS-485 motor-bus UART through
// jacobsa/go-serial rather than pkg/transport's go.bug.st/serial
// stack, so the bus-facing handle never shares state with the
// PC-facing link — the Go analogue of uart_rob and uart_pc being two
// physically separate UART peripherals.
//
// When useKernelRS485 is true, direction switching is delegated to the
// kernel's RS-485 ioctl support (Rs485Enable) instead of the caller
// bracketing a GPIO pin around every transmission; this is the
// library's reason for being pulled into this module at all — the
// other serial stack in the pack, go.bug.st/serial, has no equivalent.
func openBusLink(port string, useKernelRS485 bool) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:                port,
		BaudRate:                115200,
		DataBits:                8,
		StopBits:                1,
		MinimumReadSize:         1,
		Rs485Enable:             useKernelRS485,
		Rs485RtsHighDuringSend:  true,
		Rs485DelayRtsBeforeSend: int(busdriver.DirectionSettle),
		Rs485DelayRtsAfterSend:  int(busdriver.DirectionSettle),
	}
	link, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open bus link %s: %w", port, err)
	}
	return link, nil
}
