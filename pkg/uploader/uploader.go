// Package uploader converts a built host player timeline into
// device-tick-space keyframes and drives the CONFIG/SAVE_KEYFRAME/
// COMMIT/PLAY exchange that commits a sequence to the microcontroller
// or starts it playing immediately, mirroring RobotInterface's
// transferKeyframes/extSendConfig.
package uploader

import (
	"fmt"

	"github.com/mxschwarz/robolink/pkg/connlog"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/keyframe"
	"github.com/mxschwarz/robolink/pkg/proto"
)

// Terminate selects what the upload does once every keyframe has been
// saved.
type Terminate int

const (
	Commit Terminate = iota
	Play
	PlayLoop
)

// Item is one node of a built host-player timeline, in the shape
// pkg/player's linked list exposes for upload (angles in radians,
// relative time in seconds).
type Item struct {
	Angles       map[string]float64
	RelativeTime float64
	Output       keyframe.OutputCommand
}

// Chatter is the minimal link the uploader needs: send an
// extended-mode packet and get back the matching reply.
// *connection.Connection's internal chat satisfies this shape; tests
// use a fake.
type Chatter interface {
	Chat(cmd proto.Command, payload []byte) (proto.Packet, error)
}

// Uploader drives one upload over a Chatter, holding it exclusively
// for the duration of the transfer.
type Uploader struct {
	chat   Chatter
	joints []jointconfig.JointConfig
	log    *connlog.Logger
}

// New builds an uploader for the given link and per-address joint
// configuration (indexed by address-1, matching ticks[address-1]).
func New(chat Chatter, joints []jointconfig.JointConfig) *Uploader {
	return &Uploader{chat: chat, joints: joints}
}

// SetLogger attaches a transition logger.
func (u *Uploader) SetLogger(log *connlog.Logger) { u.log = log }

// Upload converts timeline into wire keyframes, sends CONFIG, then
// one SAVE_KEYFRAME per frame, then terminates per how. Any I/O or
// mismatch fails the whole upload; the caller gets one aggregate
// error. lookahead is the global device config field (ms).
func (u *Uploader) Upload(timeline []Item, lookahead uint16, how Terminate) error {
	if len(timeline) == 0 {
		return fmt.Errorf("uploader: empty timeline")
	}
	if len(timeline) > proto.MaxKeyframes {
		return fmt.Errorf("uploader: %d keyframes exceeds the device maximum of %d", len(timeline), proto.MaxKeyframes)
	}

	frames, activeAxes, err := u.buildFrames(timeline)
	if err != nil {
		return err
	}

	cfg := proto.Config{
		NumKeyframes: uint16(len(frames)),
		ActiveAxes:   uint16(activeAxes),
		Lookahead:    lookahead,
	}
	for _, j := range u.joints {
		if j.Address < 1 || j.Address > proto.NumAxes {
			continue
		}
		cfg.EncToMot[j.Address-1] = jointconfig.EncToMot(j)
	}

	u.log.Logf("uploader: sending CONFIG (%d keyframes, %d active axes)", cfg.NumKeyframes, cfg.ActiveAxes)
	if err := u.chatExpect(proto.CmdConfig, cfg.Marshal(), proto.CmdConfig); err != nil {
		return fmt.Errorf("uploader: config: %w", err)
	}

	for i, kf := range frames {
		save := proto.SaveKeyframe{Index: uint8(i), Keyframe: kf}
		u.log.Logf("uploader: sending SAVE_KEYFRAME %d/%d", i+1, len(frames))
		if err := u.chatExpect(proto.CmdSaveKeyframe, save.Marshal(), proto.CmdSaveKeyframe); err != nil {
			return fmt.Errorf("uploader: save keyframe %d: %w", i, err)
		}
	}

	switch how {
	case Commit:
		u.log.Logf("uploader: sending COMMIT")
		return u.chatExpect(proto.CmdCommit, nil, proto.CmdCommit)
	case Play, PlayLoop:
		var flags uint8
		if how == PlayLoop {
			flags = proto.PlayFlagLoop
		}
		u.log.Logf("uploader: sending PLAY (loop=%v)", how == PlayLoop)
		play := proto.Play{Flags: flags}
		return u.chatExpect(proto.CmdPlay, play.Marshal(), proto.CmdPlay)
	}
	return fmt.Errorf("uploader: unknown termination mode %d", how)
}

// buildFrames converts a radian-space timeline into wire keyframes per
// spec.md §4.11: the first item becomes an initial frame with
// duration 0, every later item's duration is its relative time in
// milliseconds and its ticks come from pkg/jointconfig.Transform.
func (u *Uploader) buildFrames(timeline []Item) ([]proto.Keyframe, int, error) {
	frames := make([]proto.Keyframe, len(timeline))
	activeAxes := 0

	for i, item := range timeline {
		var kf proto.Keyframe
		if i > 0 {
			kf.Duration = uint16(item.RelativeTime * 1000)
		}
		kf.OutputCommand = outputMap(item.Output)

		for _, j := range u.joints {
			if j.Address < 1 || j.Address > proto.NumAxes {
				return nil, 0, fmt.Errorf("uploader: joint %q has out-of-range address %d", j.Name, j.Address)
			}
			angle, ok := item.Angles[j.Name]
			if !ok {
				return nil, 0, fmt.Errorf("uploader: timeline item %d is missing joint %q", i, j.Name)
			}
			kf.Ticks[j.Address-1] = jointconfig.Transform(j, angle)
			if j.Address > activeAxes {
				activeAxes = j.Address
			}
		}
		frames[i] = kf
	}
	return frames, activeAxes, nil
}

func outputMap(o keyframe.OutputCommand) proto.OutputCommand {
	switch o {
	case keyframe.OutputSet:
		return proto.OutputSet
	case keyframe.OutputReset:
		return proto.OutputReset
	default:
		return proto.OutputNop
	}
}

// chatExpect sends cmd and fails unless the reply echoes want. A
// mismatched or missing reply aborts the whole upload, per spec.md
// §4.11 step 4.
func (u *Uploader) chatExpect(cmd proto.Command, payload []byte, want proto.Command) error {
	reply, err := u.chat.Chat(cmd, payload)
	if err != nil {
		return err
	}
	if reply.Command != want {
		return fmt.Errorf("uploader: expected %s reply, got %s", want, reply.Command)
	}
	return nil
}
