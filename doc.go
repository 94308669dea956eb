// Package robolink drives a multi-axis tendon-actuated articulated arm.
//
// A host application authors and plays motion sequences over a serial
// link to an on-arm microcontroller, which in turn drives each joint's
// stepper-motor controller over a shared RS-485 bus. Sequences can be
// played in real time from the host or committed to the microcontroller
// for autonomous, host-independent playback.
//
// # Installation
//
//	go install github.com/mxschwarz/robolink/cmd/robolink@latest
//
// # Usage
//
// Bring up and validate a joint configuration, then drive a sequence:
//
//	robolink configure -j joints.cfg
//	robolink play -j joints.cfg -s sequence.kf
//	robolink upload -j joints.cfg -s sequence.kf
//	robolink monitor -j joints.cfg
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/robolink: host-side CLI (configure, play, upload, monitor, console)
//   - cmd/robolink-device: device-side sequencer/dispatcher loop
//   - pkg/proto: wire packet framing and payload structs
//   - pkg/ringbuf: single-producer/single-consumer byte ring
//   - pkg/tendon: per-joint tendon controller state machine
//   - pkg/busdriver: ASCII motor-controller driver over RS-485
//   - pkg/store: persistent keyframe + config storage
//   - pkg/sequencer: device-side keyframe playback engine
//   - pkg/dispatcher: device-side packet command table
//   - pkg/transport: host serial port lifecycle and mode switching
//   - pkg/connection: host connection state machine
//   - pkg/player: host-side real-time keyframe player
//   - pkg/uploader: host-side sequence upload/commit/play
//   - pkg/jointconfig: joint configuration file and angle/tick transform
//   - pkg/keyframe: keyframe text line serialisation
//   - pkg/gpio: device digital I/O (output pins, button, sync line)
//   - pkg/telemetry: optional MQTT/websocket monitoring feeds
//   - pkg/device: device per-axis bring-up sweep
package robolink
