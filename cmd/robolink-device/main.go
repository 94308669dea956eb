package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/mxschwarz/robolink/pkg/busdriver"
	"github.com/mxschwarz/robolink/pkg/dispatcher"
	"github.com/mxschwarz/robolink/pkg/gpio"
	"github.com/mxschwarz/robolink/pkg/sequencer"
	"github.com/mxschwarz/robolink/pkg/store"
	"github.com/mxschwarz/robolink/pkg/transport"
)

// Options configures the arm-side daemon: two serial links (one to the
// controlling PC, one onto the RS-485 bus shared with the motor
// controllers) and, on real hardware, the GPIO pins main.cpp's io_init
// wires up. Every GPIO flag is optional; leaving one unset disables
// that feature (no button, no output pin, no sync line) rather than
// failing, the same way an unpopulated *gpio.Controller field does.
type Options struct {
	HostPort string `long:"host-port" required:"true" description:"Serial port facing the controlling PC"`
	BusPort  string `long:"bus-port" required:"true" description:"Serial port onto the RS-485 motor bus"`

	DirectionPin string `long:"dir-pin" description:"GPIO pin driving the RS-485 transceiver's transmit-enable line; leave unset to let the kernel's RS-485 ioctl handle direction instead"`
	OutputPin    string `long:"output-pin" description:"GPIO pin for keyframe SET/RESET output commands"`
	ButtonPin    string `long:"button-pin" description:"GPIO pin for the start button, active-low"`
	SyncPin      string `long:"sync-pin" description:"GPIO pin for the multi-arm lockstep sync line"`

	StorePath string `long:"store" default:"robolink-device.bin" description:"Path to the persisted keyframe/config image"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.Fatalf("robolink-device: %v", err)
	}
}

func run(opts Options) error {
	host, err := transport.Open(opts.HostPort)
	if err != nil {
		return fmt.Errorf("open host link: %w", err)
	}
	defer host.Close()

	useKernelRS485 := opts.DirectionPin == ""
	bus, err := openBusLink(opts.BusPort, useKernelRS485)
	if err != nil {
		return fmt.Errorf("open bus link: %w", err)
	}
	defer bus.Close()

	usesGPIO := opts.DirectionPin != "" || opts.OutputPin != "" || opts.ButtonPin != "" || opts.SyncPin != ""
	if usesGPIO {
		if err := gpio.InitHost(); err != nil {
			return err
		}
	}

	var dirPin gpio.OutputPin
	ctl := &gpio.Controller{}
	if opts.DirectionPin != "" {
		p, err := gpio.OpenOutput(opts.DirectionPin)
		if err != nil {
			return fmt.Errorf("direction pin: %w", err)
		}
		dirPin = p
	}
	if opts.OutputPin != "" {
		p, err := gpio.OpenOutput(opts.OutputPin)
		if err != nil {
			return fmt.Errorf("output pin: %w", err)
		}
		ctl.Output = p
	}
	if opts.ButtonPin != "" {
		p, err := gpio.OpenInput(opts.ButtonPin)
		if err != nil {
			return fmt.Errorf("button pin: %w", err)
		}
		ctl.Button = p
	}
	if opts.SyncPin != "" {
		p, err := gpio.OpenSyncLine(opts.SyncPin)
		if err != nil {
			return fmt.Errorf("sync pin: %w", err)
		}
		ctl.Sync = p
	}

	drv := busdriver.New(bus, rs485Direction{pin: dirPin})

	backend := store.NewFileBackend(opts.StorePath)
	st, err := store.Open(backend)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	axis := busAxisIO{drv: drv}
	seq := sequencer.New(st, axis, ctl, ctl, sequencer.NewRealClock())
	if err := seq.LoadSequence(); err != nil {
		return fmt.Errorf("load sequence: %w", err)
	}

	axes := make([]int, st.Config().ActiveAxes)
	for i := range axes {
		axes[i] = i + 1
	}

	loop := &deviceLoop{
		host: host,
		bus:  bus,
		dir:  dirPin,
		drv:  drv,
		ctl:  ctl,
		seq:  seq,
		disp: dispatcher.New(seq, processReboot{}),
		det:  transport.NewDetector(),
		axes: axes,
	}

	log.Println("robolink-device: starting up")
	loop.Run()
	return nil
}
