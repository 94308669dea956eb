// Package dispatcher implements the device's extended-mode packet
// command table: it decodes incoming frames, mutates the sequencer's
// in-RAM state, and produces reply frames. It also owns the idle
// timeout that drops the device back into passthrough mode.
package dispatcher

import (
	"time"

	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/sequencer"
)

// IdleTimeout is how long the dispatcher waits for a valid packet
// before signalling the caller to fall back to passthrough mode.
const IdleTimeout = 255 * time.Millisecond

// Rebooter is called when a RESET packet carries the correct key. The
// device binary's Rebooter exits the process; Handle does not depend on
// Reboot returning or not.
type Rebooter interface {
	Reboot()
}

// Dispatcher mutates a *sequencer.Sequencer in response to decoded
// packets and produces the corresponding reply.
type Dispatcher struct {
	seq    *sequencer.Sequencer
	reboot Rebooter
	quit   bool
}

// New creates a dispatcher driving seq. reboot may be nil in tests.
func New(seq *sequencer.Sequencer, reboot Rebooter) *Dispatcher {
	return &Dispatcher{seq: seq, reboot: reboot}
}

// QuitRequested reports whether an EXIT packet was handled, signalling
// the device's main loop to drop back to the passthrough byte-shovel.
func (d *Dispatcher) QuitRequested() bool { return d.quit }

// Reset clears the quit flag, matching handleCommands' unconditional
// g_extShouldQuit = false once its loop ends. The device main loop
// calls this before starting a new extended-mode session so one
// session's EXIT doesn't short-circuit the next.
func (d *Dispatcher) Reset() { d.quit = false }

// Reply is what Handle produces for a packet: either a framed response
// or, for packets the protocol says to ignore, no reply at all.
type Reply struct {
	Command proto.Command
	Payload []byte
	Send    bool
}

// Handle processes one decoded packet and returns the reply to send
// back, if any. Destructive commands (CONFIG write, SAVE_KEYFRAME,
// COMMIT) are silently ignored while the sequencer is playing, matching
// the device firmware's protocol-violation handling: no reply is sent,
// and the host's command-answer matcher surfaces the resulting timeout
// as an upload failure.
func (d *Dispatcher) Handle(pkt proto.Packet) Reply {
	switch pkt.Command {
	case proto.CmdInit:
		return ack(proto.CmdInit)

	case proto.CmdExit:
		d.quit = true
		return ack(proto.CmdExit)

	case proto.CmdConfig:
		return d.handleConfig(pkt.Payload)

	case proto.CmdSaveKeyframe:
		return d.handleSaveKeyframe(pkt.Payload)

	case proto.CmdReadKeyframe:
		return d.handleReadKeyframe(pkt.Payload)

	case proto.CmdCommit:
		if err := d.seq.Commit(); err != nil {
			return Reply{}
		}
		return ack(proto.CmdCommit)

	case proto.CmdPlay:
		return d.handlePlay(pkt.Payload)

	case proto.CmdStop:
		d.seq.Stop()
		return ack(proto.CmdStop)

	case proto.CmdFeedback:
		fb := d.seq.Feedback()
		return Reply{Command: proto.CmdFeedback, Payload: fb.Marshal(), Send: true}

	case proto.CmdMotion:
		return d.handleMotion(pkt.Payload)

	case proto.CmdReset:
		d.handleReset(pkt.Payload)
		return Reply{}
	}
	return Reply{}
}

func ack(cmd proto.Command) Reply {
	return Reply{Command: cmd, Send: true}
}

func (d *Dispatcher) handleConfig(payload []byte) Reply {
	if len(payload) == 0 {
		return Reply{Command: proto.CmdConfig, Payload: d.seq.Config().Marshal(), Send: true}
	}
	cfg, err := proto.UnmarshalConfig(payload)
	if err != nil {
		return Reply{}
	}
	if err := d.seq.SetConfig(cfg); err != nil {
		return Reply{} // playing: protocol violation, silent ignore
	}
	return ack(proto.CmdConfig)
}

func (d *Dispatcher) handleSaveKeyframe(payload []byte) Reply {
	sk, err := proto.UnmarshalSaveKeyframe(payload)
	if err != nil {
		return Reply{}
	}
	if err := d.seq.SaveKeyframe(int(sk.Index), sk.Keyframe); err != nil {
		return Reply{}
	}
	return ack(proto.CmdSaveKeyframe)
}

func (d *Dispatcher) handleReadKeyframe(payload []byte) Reply {
	rk, err := proto.UnmarshalReadKeyframe(payload)
	if err != nil {
		return Reply{}
	}
	kf, err := d.seq.Keyframe(int(rk.Index))
	if err != nil {
		return Reply{}
	}
	return Reply{Command: proto.CmdReadKeyframe, Payload: kf.Marshal(), Send: true}
}

func (d *Dispatcher) handlePlay(payload []byte) Reply {
	play, err := proto.UnmarshalPlay(payload)
	if err != nil {
		return Reply{}
	}
	go func() {
		// RunSequence itself claims the playing flag atomically and
		// returns ErrPlaying if another PLAY beat this one to it, so
		// there's no separate IsPlaying check-then-act race here. STOP
		// is serviced by whatever goroutine reads the device's byte
		// stream, independently of this one.
		_ = d.seq.RunSequence(play.Loop(), nil)
	}()
	return ack(proto.CmdPlay)
}

func (d *Dispatcher) handleMotion(payload []byte) Reply {
	m, err := proto.UnmarshalMotion(payload)
	if err != nil {
		return Reply{}
	}
	if err := d.seq.ApplyMotion(m); err != nil {
		return Reply{}
	}
	fb := d.seq.Feedback()
	return Reply{Command: proto.CmdFeedback, Payload: fb.Marshal(), Send: true}
}

func (d *Dispatcher) handleReset(payload []byte) {
	r, err := proto.UnmarshalReset(payload)
	if err != nil || !r.Authorised() {
		return
	}
	if d.reboot != nil {
		d.reboot.Reboot()
	}
}
