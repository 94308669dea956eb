package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mxschwarz/robolink/pkg/connection"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/runconfig"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// ConfigureCommand brings a connection up to extended mode, walks the
// operator through zeroing every joint, and saves the result back to
// the joint file plus the per-joint currents to the run config.
type ConfigureCommand struct {
	Joints    string   `short:"j" long:"joints" default:"joints.cfg" description:"Joint definition file"`
	Ports     []string `short:"p" long:"port" description:"Candidate serial ports (repeatable)"`
	RunConfig string   `long:"run-config" default:"robolink.json" description:"Run configuration file"`
}

func (cmd *ConfigureCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("robolink configure"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := jointconfig.Load(cmd.Joints)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	run, err := loadRunConfig(cmd.RunConfig)
	if err != nil {
		return err
	}

	candidates, err := candidatePorts(cmd.Ports, run)
	if err != nil {
		return err
	}
	run.Ports = candidates
	run.JointsFile = cmd.Joints

	fmt.Printf("Bringing up connection on %v...\n", candidates)
	conn, err := dialConnection(candidates, cfg.Joints, run, nil)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	fmt.Println(successStyle.Render("Extended mode reached."))
	fmt.Println()

	if run.Currents == nil {
		run.Currents = make(map[string]runconfig.JointCurrent)
	}
	for i, j := range cfg.Joints {
		tick, err := readTick(conn, i)
		if err != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %v", err)))
		}
		fmt.Println(renderJointTable(j, tick))

		prev := run.Currents[j.Name]
		var zeroNow bool
		hold, max := prev.HoldCurrent, prev.MaxCurrent
		if err := runJointForm(j, &zeroNow, &hold, &max); err != nil {
			return fmt.Errorf("configure: %w", err)
		}

		if zeroNow {
			cfg.Joints[i].Offset = zeroOffset(j, tick)
			fmt.Println(successStyle.Render(fmt.Sprintf("  recorded zero offset %.4f for %q", cfg.Joints[i].Offset, j.Name)))
		}
		run.Currents[j.Name] = runconfig.JointCurrent{HoldCurrent: hold, MaxCurrent: max}
	}

	if err := jointconfig.Save(cmd.Joints, cfg); err != nil {
		return fmt.Errorf("configure: save joints: %w", err)
	}
	if err := run.SaveTo(cmd.RunConfig); err != nil {
		return fmt.Errorf("configure: save run config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved %s and %s.", cmd.Joints, cmd.RunConfig)))
	return nil
}

// runJointForm asks whether the joint is at its zero pose and reads
// its two stiff-mode currents, the interactive counterpart to the
// original GUI's per-joint current fields (never present in the joint
// file itself; see DESIGN.md).
func runJointForm(j jointconfig.JointConfig, zeroNow *bool, hold, max *int) error {
	holdStr := fmt.Sprintf("%d", *hold)
	maxStr := fmt.Sprintf("%d", *max)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Joint %q: is the arm at its zero pose right now?", j.Name)).
				Value(zeroNow),
			huh.NewInput().
				Title("Hold current (stiff mode)").
				Value(&holdStr),
			huh.NewInput().
				Title("Max current (stiff mode)").
				Value(&maxStr),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	fmt.Sscanf(holdStr, "%d", hold)
	fmt.Sscanf(maxStr, "%d", max)
	return nil
}

// zeroOffset picks the offset that makes the joint read back as angle
// zero at the tick it is currently reporting, inverting
// jointconfig.Transform's angle==0 case.
func zeroOffset(j jointconfig.JointConfig, tick uint16) float64 {
	return (float64(tick) - jointconfig.PositionBias) * j.EncToRad
}

// readTick reports axis's current wire-space tick from the last
// feedback frame the connection decoded.
func readTick(conn *connection.Connection, axis int) (uint16, error) {
	fb := conn.LastFeedback()
	if axis >= int(fb.NumAxes) {
		return jointconfig.PositionBias, fmt.Errorf("axis %d not reported in feedback", axis)
	}
	v := fb.Positions[axis]
	if v == proto.NoReading {
		return jointconfig.PositionBias, fmt.Errorf("no fresh reading for axis %d", axis)
	}
	return uint16(v), nil
}

func renderJointTable(j jointconfig.JointConfig, tick uint16) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("field", "value").
		Row("name", j.Name).
		Row("address", fmt.Sprintf("%d", j.Address)).
		Row("current tick", fmt.Sprintf("%d", tick)).
		Row("offset", fmt.Sprintf("%.4f", j.Offset))
	return t.Render()
}
