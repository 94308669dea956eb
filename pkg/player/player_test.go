package player

import (
	"math"
	"testing"
	"time"

	"github.com/mxschwarz/robolink/pkg/keyframe"
)

func frame(angle float64, speed int, pause float64) keyframe.Keyframe {
	return keyframe.Keyframe{Angles: map[string]float64{"a": angle}, Speed: speed, Pause: pause}
}

func TestBuildTooFewFramesIsNoop(t *testing.T) {
	p := New()
	if err := p.Build([]keyframe.Keyframe{frame(0, 50, 0)}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.head != nil {
		t.Fatal("Build with < 2 frames should leave the timeline empty")
	}
}

func TestStepReachesFinalAngle(t *testing.T) {
	p := New()
	frames := []keyframe.Keyframe{frame(0, 100, 0), frame(1.0, 100, 0)}
	if err := p.Build(frames); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var last Sample
	for i := 0; i < 10000 && !last.Finished; i++ {
		last = p.Step(10 * time.Millisecond)
	}
	if !last.Finished {
		t.Fatal("player never reported finished")
	}
	if math.Abs(last.Angles["a"]-1.0) > 1e-9 {
		t.Fatalf("final angle = %v, want 1.0", last.Angles["a"])
	}
}

func TestStepHoldsForPause(t *testing.T) {
	p := New()
	frames := []keyframe.Keyframe{frame(0, 100, 0), frame(0, 100, 1.0)}
	if err := p.Build(frames); err != nil {
		t.Fatalf("Build: %v", err)
	}
	sample := p.Step(500 * time.Millisecond)
	if sample.Finished {
		t.Fatal("should still be mid-pause")
	}
	if sample.Angles["a"] != 0 {
		t.Fatalf("angle during pause = %v, want 0", sample.Angles["a"])
	}
}

func TestLoopedWrapsSlider(t *testing.T) {
	p := New()
	p.Looped = true
	frames := []keyframe.Keyframe{frame(0, 100, 0), frame(1.0, 100, 0)}
	if err := p.Build(frames); err != nil {
		t.Fatalf("Build: %v", err)
	}

	sawFinished := false
	for i := 0; i < 20000; i++ {
		s := p.Step(5 * time.Millisecond)
		if s.Finished {
			sawFinished = true
			break
		}
	}
	if sawFinished {
		t.Fatal("a looped timeline must never report finished")
	}
}

func TestSegmentTimeUsesLInfNorm(t *testing.T) {
	from := keyframe.Keyframe{Angles: map[string]float64{"a": 0, "b": 0}}
	to := keyframe.Keyframe{Angles: map[string]float64{"a": 0.1, "b": 0.9}, Speed: 100}
	got, err := segmentTime(from, to, 1.0)
	if err != nil {
		t.Fatalf("segmentTime: %v", err)
	}
	want := 0.9 / 1.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("segmentTime = %v, want %v (limited by joint b's larger delta)", got, want)
	}
}

func TestTimelineMatchesBuiltFrames(t *testing.T) {
	p := New()
	frames := []keyframe.Keyframe{frame(0, 100, 0), frame(0.5, 100, 0), frame(1.0, 100, 0)}
	if err := p.Build(frames); err != nil {
		t.Fatalf("Build: %v", err)
	}

	items := p.Timeline()
	if len(items) != 3 {
		t.Fatalf("len(Timeline()) = %d, want 3 (the head plus one item per segment)", len(items))
	}
	if items[0].Angles["a"] != 0 {
		t.Fatalf("items[0].Angles[a] = %v, want 0", items[0].Angles["a"])
	}
	if items[0].RelativeTime != 0 {
		t.Fatalf("items[0].RelativeTime = %v, want 0 (the head carries no segment time)", items[0].RelativeTime)
	}
	if items[1].Angles["a"] != 0.5 {
		t.Fatalf("items[1].Angles[a] = %v, want 0.5", items[1].Angles["a"])
	}
	if items[2].Angles["a"] != 1.0 {
		t.Fatalf("items[2].Angles[a] = %v, want 1.0", items[2].Angles["a"])
	}
	if items[2].RelativeTime <= 0 {
		t.Fatalf("items[2].RelativeTime = %v, want > 0 (segment time to the final pose)", items[2].RelativeTime)
	}
}

func TestTimelineEmptyBeforeBuild(t *testing.T) {
	p := New()
	if got := p.Timeline(); got != nil {
		t.Fatalf("Timeline() before Build = %v, want nil", got)
	}
}

func TestJointAnglesInAdaptsVelocity(t *testing.T) {
	p := New()
	frames := []keyframe.Keyframe{frame(0, 50, 0), frame(1.0, 50, 0)}
	if err := p.Build(frames); err != nil {
		t.Fatalf("Build: %v", err)
	}
	p.Step(10 * time.Millisecond)

	p.JointAnglesIn(map[string]float64{"a": p.txAngles["a"] - 0.3})
	factor := p.txCorrection["a"]
	if factor < 1.0-p.VelocityAdaptionStrength || factor > 1.0+p.VelocityAdaptionStrength {
		t.Fatalf("correction factor %v escaped its clamp band", factor)
	}
}
