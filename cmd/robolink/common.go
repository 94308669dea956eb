package main

import (
	"fmt"
	"os"

	"go.bug.st/serial"

	"github.com/mxschwarz/robolink/pkg/connection"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/runconfig"
)

// loadRunConfig reads path, or returns an empty *runconfig.Config if
// the file doesn't exist yet (first run, before `configure`).
func loadRunConfig(path string) (*runconfig.Config, error) {
	if path == "" {
		path = runconfig.DefaultConfigFile
	}
	cfg, err := runconfig.LoadConfigFrom(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &runconfig.Config{}, nil
		}
		return nil, fmt.Errorf("run config: %w", err)
	}
	return cfg, nil
}

// candidatePorts resolves the serial ports a connection should try:
// explicit ports first, else the run config's saved ports, else every
// port the OS reports.
func candidatePorts(explicit []string, run *runconfig.Config) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if len(run.Ports) > 0 {
		return run.Ports, nil
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found; pass --port explicitly")
	}
	return ports, nil
}

// axisJoints converts loaded joint definitions into connection.AxisJoint,
// folding in any per-joint current overrides `configure` saved to the
// run config (pkg/jointconfig's file format never carries these; see
// DESIGN.md).
func axisJoints(joints []jointconfig.JointConfig, run *runconfig.Config) []connection.AxisJoint {
	out := make([]connection.AxisJoint, len(joints))
	for i, j := range joints {
		cur := run.Currents[j.Name]
		out[i] = connection.AxisJoint{
			Address:     j.Address,
			HoldCurrent: cur.HoldCurrent,
			MaxCurrent:  cur.MaxCurrent,
		}
	}
	return out
}

// dialConnection builds and connects a *connection.Connection over
// candidates, stepping it until it reaches connection.ExtendedMode or
// the stop function reports true.
func dialConnection(candidates []string, joints []jointconfig.JointConfig, run *runconfig.Config, stop func() bool) (*connection.Connection, error) {
	conn := connection.New(candidates, axisJoints(joints, run))
	for {
		if stop != nil && stop() {
			return conn, fmt.Errorf("dial: aborted before reaching extended mode (last state %s)", conn.State())
		}
		prev := conn.State()
		if err := conn.Step(); err != nil {
			return conn, fmt.Errorf("dial: %w", err)
		}
		if conn.State() == connection.ExtendedMode {
			return conn, nil
		}
		// checkAlreadyInitialised leaves the state unchanged when the
		// axes did not already report ZP+2; force the reset cycle.
		if conn.State() == connection.RobotConfirmed && prev == connection.RobotConfirmed {
			conn.RequestInit()
		}
	}
}
