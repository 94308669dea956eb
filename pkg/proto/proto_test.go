package proto

import (
	"bytes"
	"testing"
)

func TestChecksumInitPacket(t *testing.T) {
	// FF 0A 00 00 F5 0D: ^(0x0A + 0x00 + 0x00) = 0xF5.
	got := Checksum(CmdInit, 0, nil)
	if got != 0xF5 {
		t.Fatalf("checksum = %#x, want 0xf5", got)
	}
}

func TestEncodeInitPacket(t *testing.T) {
	got, err := Encode(CmdInit, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xFF, 0x0A, 0x00, 0x00, 0xF5, 0x0D}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode(INIT) = % x, want % x", got, want)
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	cfg := Config{
		NumKeyframes: 3,
		ActiveAxes:   2,
		EncToMot:     [NumAxes]uint16{256, 300},
		Lookahead:    200,
	}
	frame, err := Encode(CmdConfig, cfg.Marshal())
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder()
	var got Packet
	found := false
	d.PushBytes(frame, func(p Packet) {
		got = p
		found = true
	})
	if !found {
		t.Fatal("decoder did not yield a packet")
	}
	if got.Command != CmdConfig {
		t.Fatalf("command = %v, want CONFIG", got.Command)
	}
	decoded, err := UnmarshalConfig(got.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != cfg {
		t.Fatalf("decoded = %+v, want %+v", decoded, cfg)
	}
}

func TestDecoderResyncsOnGarbagePrefix(t *testing.T) {
	frame, err := Encode(CmdStop, nil)
	if err != nil {
		t.Fatal(err)
	}
	garbage := append([]byte{0x01, 0x02, 0xFF, 0x99}, frame...)

	d := NewDecoder()
	var packets []Packet
	d.PushBytes(garbage, func(p Packet) { packets = append(packets, p) })

	if len(packets) != 1 || packets[0].Command != CmdStop {
		t.Fatalf("packets = %+v, want exactly one STOP packet", packets)
	}
}

func TestDecoderRejectsBadChecksum(t *testing.T) {
	frame, err := Encode(CmdExit, nil)
	if err != nil {
		t.Fatal(err)
	}
	frame[len(frame)-2] ^= 0xFF // corrupt checksum

	d := NewDecoder()
	found := false
	d.PushBytes(frame, func(Packet) { found = true })
	if found {
		t.Fatal("decoder accepted a packet with a bad checksum")
	}
}

func TestKeyframeRoundTrip(t *testing.T) {
	kf := Keyframe{
		Duration:      1500,
		Ticks:         [NumAxes]uint16{16384, 16964, 0, 0, 0, 0, 0, 0},
		OutputCommand: OutputSet,
	}
	got, err := UnmarshalKeyframe(kf.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != kf {
		t.Fatalf("got %+v, want %+v", got, kf)
	}
}

func TestFeedbackPlaying(t *testing.T) {
	f := Feedback{Flags: FeedbackFlagPlaying}
	if !f.Playing() {
		t.Fatal("Playing() = false, want true")
	}
	f.Flags = 0
	if f.Playing() {
		t.Fatal("Playing() = true, want false")
	}
}

func TestResetAuthorised(t *testing.T) {
	r := Reset{Key: ResetKey}
	if !r.Authorised() {
		t.Fatal("Authorised() = false for the literal reset key")
	}
	r.Key[0] ^= 1
	if r.Authorised() {
		t.Fatal("Authorised() = true for a corrupted key")
	}
}
