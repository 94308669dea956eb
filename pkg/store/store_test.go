package store

import (
	"path/filepath"
	"testing"

	"github.com/mxschwarz/robolink/pkg/proto"
)

func TestOpenDefaultsOnBlankBackend(t *testing.T) {
	s, err := Open(NewMemoryBackend())
	if err != nil {
		t.Fatal(err)
	}
	cfg := s.Config()
	if cfg.ActiveAxes != 4 || cfg.NumKeyframes != 0 {
		t.Fatalf("defaults = %+v, want 4 axes / 0 keyframes", cfg)
	}
}

func TestOpenRejectsSentinelActiveAxes(t *testing.T) {
	b := NewMemoryBackend()
	b.WriteConfig(proto.Config{ActiveAxes: 0xFFFF})
	s, err := Open(b)
	if err != nil {
		t.Fatal(err)
	}
	if s.Config().ActiveAxes == 0xFFFF {
		t.Fatal("store should have reset the sentinel config to defaults")
	}
}

func TestOpenRejectsOversizedKeyframeCount(t *testing.T) {
	b := NewMemoryBackend()
	b.WriteConfig(proto.Config{ActiveAxes: 2, NumKeyframes: proto.MaxKeyframes})
	s, err := Open(b)
	if err != nil {
		t.Fatal(err)
	}
	if s.Config().NumKeyframes != 0 {
		t.Fatal("store should reject num_keyframes >= MaxKeyframes")
	}
}

func TestWriteReadKeyframeRoundTrip(t *testing.T) {
	s, err := Open(NewMemoryBackend())
	if err != nil {
		t.Fatal(err)
	}
	kf := proto.Keyframe{Duration: 500, Ticks: [proto.NumAxes]uint16{16384}}
	if err := s.WriteKeyframe(0, kf); err != nil {
		t.Fatal(err)
	}
	s.SetConfig(proto.Config{NumKeyframes: 1, ActiveAxes: 1})
	got, err := s.ReadKeyframe(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != kf {
		t.Fatalf("got %+v, want %+v", got, kf)
	}
}

func TestFileBackendPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	b1 := NewFileBackend(path)
	if err := b1.WriteConfig(proto.Config{ActiveAxes: 3, NumKeyframes: 2}); err != nil {
		t.Fatal(err)
	}
	kf := proto.Keyframe{Duration: 1000, Ticks: [proto.NumAxes]uint16{1, 2, 3}}
	if err := b1.WriteKeyframe(1, kf); err != nil {
		t.Fatal(err)
	}

	b2 := NewFileBackend(path)
	cfg, ok, err := b2.ReadConfig()
	if err != nil || !ok {
		t.Fatalf("ReadConfig: ok=%v err=%v", ok, err)
	}
	if cfg.ActiveAxes != 3 || cfg.NumKeyframes != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	got, ok, err := b2.ReadKeyframe(1)
	if err != nil || !ok {
		t.Fatalf("ReadKeyframe: ok=%v err=%v", ok, err)
	}
	if got != kf {
		t.Fatalf("got %+v, want %+v", got, kf)
	}
}
