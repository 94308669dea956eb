// Command robolink is the host-side CLI for the arm: bring up and
// calibrate a joint configuration, play or upload a sequence, and
// watch a live connection, mirroring the reference CLI's Setup/
// Teleoperate split with verbs suited to this protocol instead.
package main

import (
	"os"

	flags "github.com/jessevdk/go-flags"
)

type Options struct {
	Configure ConfigureCommand `command:"configure" description:"Bring up a joint config and calibrate zero positions"`
	Play      PlayCommand      `command:"play" description:"Play a keyframe sequence live through the host player"`
	Upload    UploadCommand    `command:"upload" description:"Commit a keyframe sequence to the device"`
	Monitor   MonitorCommand   `command:"monitor" description:"Live view of connection state and feedback"`
	Console   ConsoleCommand   `command:"console" description:"Manual low-level bus command line"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "robolink - host control CLI for the tendon-actuated arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
