package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/mxschwarz/robolink/pkg/connlog"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/keyframe"
	"github.com/mxschwarz/robolink/pkg/player"
	"github.com/mxschwarz/robolink/pkg/proto"
)

// PlayCommand drives a sequence live over a connection through
// pkg/player, sending a MOTION packet per step instead of committing
// keyframes to the device.
type PlayCommand struct {
	Joints    string   `short:"j" long:"joints" default:"joints.cfg" description:"Joint definition file"`
	Sequence  string   `short:"s" long:"sequence" required:"true" description:"Keyframe text file"`
	Ports     []string `short:"p" long:"port" description:"Candidate serial ports (repeatable)"`
	RunConfig string   `long:"run-config" default:"robolink.json" description:"Run configuration file"`
	Loop      bool     `long:"loop" description:"Loop the sequence"`
}

func (cmd *PlayCommand) Execute(args []string) error {
	cfg, err := jointconfig.Load(cmd.Joints)
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	frames, err := loadKeyframes(cmd.Sequence)
	if err != nil {
		return err
	}

	run, err := loadRunConfig(cmd.RunConfig)
	if err != nil {
		return err
	}
	candidates, err := candidatePorts(cmd.Ports, run)
	if err != nil {
		return err
	}

	fmt.Printf("Bringing up connection on %v...\n", candidates)
	conn, err := dialConnection(candidates, cfg.Joints, run, nil)
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	fmt.Println("Extended mode reached, playing.")

	log := connlog.New(64)
	conn.SetLogger(log)
	go drainLog(log)

	p := player.New()
	p.Looped = cmd.Loop
	if err := p.Build(frames); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := func(s player.Sample) error {
		m := buildMotion(cfg.Joints, s)
		reply, err := conn.Chat(proto.CmdMotion, m.Marshal())
		if err != nil {
			log.Logf("play: motion: %v", err)
			return nil
		}
		fb, err := proto.UnmarshalFeedback(reply.Payload)
		if err == nil {
			p.JointAnglesIn(feedbackAngles(cfg.Joints, fb))
		}
		return nil
	}

	if err := p.Run(ctx, out); err != nil && err != context.Canceled {
		return fmt.Errorf("play: %w", err)
	}
	fmt.Println("Playback finished.")
	return nil
}

// buildMotion converts one player step into a wire-space MOTION
// packet, clamping every angle to its joint's configured range before
// the tick transform.
func buildMotion(joints []jointconfig.JointConfig, s player.Sample) proto.Motion {
	var m proto.Motion
	m.OutputCommand = proto.OutputCommand(outputCommandValue(s.Output))
	for _, j := range joints {
		if j.Address < 1 || j.Address > proto.NumAxes {
			continue
		}
		angle := jointconfig.Clamp(j, s.Angles[j.Name])
		m.Ticks[j.Address-1] = jointconfig.Transform(j, angle)
		m.Velocity[j.Address-1] = velocityTicks(j, s.Velocities[j.Name])
		if j.Address > int(m.NumAxes) {
			m.NumAxes = uint8(j.Address)
		}
	}
	return m
}

// velocityTicks converts a rad/s joint velocity to encoder ticks per
// second (its magnitude), the same EncToRad division
// Transform uses for positions.
func velocityTicks(j jointconfig.JointConfig, radPerSec float64) uint16 {
	v := math.Round(math.Abs(radPerSec) / j.EncToRad)
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	return uint16(v)
}

func outputCommandValue(o keyframe.OutputCommand) int {
	switch o {
	case keyframe.OutputSet:
		return int(proto.OutputSet)
	case keyframe.OutputReset:
		return int(proto.OutputReset)
	default:
		return int(proto.OutputNop)
	}
}

// feedbackAngles converts a decoded FEEDBACK frame back into
// radian-space angles per joint, feeding the player's velocity
// adaption. A sentinel reading is skipped, leaving the player's last
// known angle in place.
func feedbackAngles(joints []jointconfig.JointConfig, fb proto.Feedback) map[string]float64 {
	out := make(map[string]float64, len(joints))
	for _, j := range joints {
		if j.Address < 1 || j.Address > int(fb.NumAxes) {
			continue
		}
		tick := fb.Positions[j.Address-1]
		if tick == proto.NoReading {
			continue
		}
		out[j.Name] = jointconfig.InverseTransform(j, uint16(tick))
	}
	return out
}

func drainLog(log *connlog.Logger) {
	for line := range log.Lines() {
		fmt.Println(line)
	}
}
