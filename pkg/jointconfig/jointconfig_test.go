package jointconfig

import (
	"math"
	"strings"
	"testing"
)

const sampleConfig = `[global]
lookahead=150

[Joint0]
name=shoulder
type=X
address=1
encoder_steps_per_turn=4096
motor_steps_per_turn=200

[Joint1]
name=elbow
type=Z
address=2
encoder_steps_per_turn=4096
motor_steps_per_turn=200
invert=1
offset=0.5
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Lookahead != 150 {
		t.Fatalf("Lookahead = %d, want 150", cfg.Lookahead)
	}
	if len(cfg.Joints) != 2 {
		t.Fatalf("len(Joints) = %d, want 2", len(cfg.Joints))
	}
	if cfg.Joints[0].Name != "shoulder" || cfg.Joints[0].Address != 1 {
		t.Fatalf("Joints[0] = %+v", cfg.Joints[0])
	}
	if !cfg.Joints[1].Invert || cfg.Joints[1].Offset != 0.5 {
		t.Fatalf("Joints[1] = %+v", cfg.Joints[1])
	}
	if cfg.Joints[0].LowerLimit != -1.0 || cfg.Joints[0].UpperLimit != 1.0 {
		t.Fatalf("default limits not applied: %+v", cfg.Joints[0])
	}
}

func TestParseRejectsDuplicateAddress(t *testing.T) {
	bad := strings.Replace(sampleConfig, "address=2", "address=1", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for a duplicate address")
	}
}

func TestParseRejectsAddressGap(t *testing.T) {
	bad := strings.Replace(sampleConfig, "address=2", "address=3", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for a gap in addresses")
	}
}

func TestParseRejectsMissingMandatory(t *testing.T) {
	bad := strings.Replace(sampleConfig, "motor_steps_per_turn=200\n", "", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for a missing mandatory field")
	}
}

func TestParseRejectsInvalidName(t *testing.T) {
	bad := strings.Replace(sampleConfig, "name=shoulder", "name=bad name", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for an invalid joint name")
	}
}

func TestParseRejectsIndexGap(t *testing.T) {
	bad := strings.Replace(sampleConfig, "[Joint1]", "[Joint2]", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for a gap in joint indices")
	}
}

func TestTransformRoundTrip(t *testing.T) {
	j := JointConfig{EncToRad: 2 * math.Pi / 4096, Offset: 0.1, Invert: false}
	angle := 0.3
	tick := Transform(j, angle)
	back := InverseTransform(j, tick)
	if math.Abs(back-angle) > j.EncToRad/2 {
		t.Fatalf("round trip error %v exceeds enc_to_rad/2 %v", math.Abs(back-angle), j.EncToRad/2)
	}
}

func TestTransformInverted(t *testing.T) {
	j := JointConfig{EncToRad: 2 * math.Pi / 4096, Invert: true}
	tick := Transform(j, 0.2)
	straight := JointConfig{EncToRad: j.EncToRad, Invert: false}
	wantTick := Transform(straight, -0.2)
	if tick != wantTick {
		t.Fatalf("Transform with Invert = %d, want %d", tick, wantTick)
	}
}

func TestClamp(t *testing.T) {
	j := JointConfig{LowerLimit: -0.5, UpperLimit: 0.5}
	if Clamp(j, 1.0) != 0.5 {
		t.Fatal("Clamp did not clamp to upper limit")
	}
	if Clamp(j, -1.0) != -0.5 {
		t.Fatal("Clamp did not clamp to lower limit")
	}
	if Clamp(j, 0.1) != 0.1 {
		t.Fatal("Clamp altered an in-range value")
	}
}

func TestEncToMot(t *testing.T) {
	j := JointConfig{EncToRad: 1.0, MotToRad: 1.0}
	if got := EncToMot(j); got != 256 {
		t.Fatalf("EncToMot = %d, want 256", got)
	}
}
