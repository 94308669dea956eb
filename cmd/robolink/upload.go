package main

import (
	"fmt"

	"github.com/mxschwarz/robolink/pkg/connlog"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/keyframe"
	"github.com/mxschwarz/robolink/pkg/player"
	"github.com/mxschwarz/robolink/pkg/uploader"
)

// UploadCommand builds the host player's timeline for a sequence,
// then commits it to the device over pkg/uploader, optionally asking
// the device to start playing right away.
type UploadCommand struct {
	Joints    string   `short:"j" long:"joints" default:"joints.cfg" description:"Joint definition file"`
	Sequence  string   `short:"s" long:"sequence" required:"true" description:"Keyframe text file"`
	Ports     []string `short:"p" long:"port" description:"Candidate serial ports (repeatable)"`
	RunConfig string   `long:"run-config" default:"robolink.json" description:"Run configuration file"`
	Play      bool     `long:"play" description:"Start playback immediately after committing"`
	Loop      bool     `long:"loop" description:"Loop playback (implies --play)"`
}

func (cmd *UploadCommand) Execute(args []string) error {
	cfg, err := jointconfig.Load(cmd.Joints)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
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
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Println("Extended mode reached, uploading.")

	log := connlog.New(64)
	conn.SetLogger(log)
	go drainLog(log)

	timeline, err := buildTimeline(frames)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	how := uploader.Commit
	switch {
	case cmd.Loop:
		how = uploader.PlayLoop
	case cmd.Play:
		how = uploader.Play
	}

	up := uploader.New(conn, cfg.Joints)
	up.SetLogger(log)
	if err := up.Upload(timeline, uint16(cfg.Lookahead), how); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Println("Upload complete.")
	return nil
}

// buildTimeline runs pkg/player's build-only phase over frames and
// reads the resulting linked timeline back out as uploader.Item
// values: upload reuses the player's build phase to get segment
// timing without ever running its step phase.
func buildTimeline(frames []keyframe.Keyframe) ([]uploader.Item, error) {
	p := player.New()
	if err := p.Build(frames); err != nil {
		return nil, err
	}
	nodes := p.Timeline()
	items := make([]uploader.Item, len(nodes))
	for i, n := range nodes {
		items[i] = uploader.Item{Angles: n.Angles, RelativeTime: n.RelativeTime, Output: n.Output}
	}
	return items, nil
}
