// Package keyframe parses and formats the one-line-per-keyframe text
// format used for authoring and persisting motion sequences, and
// computes the L∞ distance between poses used to time a segment.
package keyframe

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OutputCommand is the digital-output annotation carried by a keyframe.
type OutputCommand int

const (
	OutputIgnore OutputCommand = iota
	OutputSet
	OutputReset
)

// Keyframe is the host authoring form: joint name to angle (radians),
// plus timing and output metadata. Ordered position in a sequence is
// external to this type.
type Keyframe struct {
	Angles map[string]float64
	Speed  int // percent of configured max, 1..100
	Pause  float64
	Output OutputCommand
}

var jointNamePattern = regexp.MustCompile(`^[A-Za-z0-9_()]+$`)

// lineFormat accepts any order and any subset of leading metadata
// tokens followed by any number of joint tokens.
var lineFormat = regexp.MustCompile(`^((speed:\d{1,3})?(\s)?(pause:\d{1,3}(\.\d+)?)?(\s)?(output:\d)?((\s)?[\w()]+:-?\d+(\.\d+)?)*\s*)$`)

// Validate reports whether line matches the keyframe line grammar.
func Validate(line string) bool {
	return lineFormat.MatchString(strings.TrimRight(line, "\n"))
}

// Parse converts a text line into a Keyframe. The index of a keyframe
// in its sequence is not part of the line; callers track position
// separately.
func Parse(line string) (Keyframe, error) {
	line = strings.TrimRight(line, "\n")
	if !Validate(line) {
		return Keyframe{}, fmt.Errorf("keyframe: invalid line %q", line)
	}

	kf := Keyframe{Angles: make(map[string]float64), Speed: 50}
	for _, tok := range strings.Fields(line) {
		key, val, ok := strings.Cut(tok, ":")
		if !ok {
			return Keyframe{}, fmt.Errorf("keyframe: malformed token %q", tok)
		}
		switch key {
		case "speed":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Keyframe{}, fmt.Errorf("keyframe: speed %q: %w", val, err)
			}
			kf.Speed = n
		case "pause":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return Keyframe{}, fmt.Errorf("keyframe: pause %q: %w", val, err)
			}
			kf.Pause = f
		case "output":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Keyframe{}, fmt.Errorf("keyframe: output %q: %w", val, err)
			}
			kf.Output = OutputCommand(n)
		default:
			if !jointNamePattern.MatchString(key) {
				return Keyframe{}, fmt.Errorf("keyframe: invalid joint name %q", key)
			}
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return Keyframe{}, fmt.Errorf("keyframe: angle %q: %w", val, err)
			}
			kf.Angles[key] = f
		}
	}
	return kf, nil
}

// String formats a Keyframe back to its single-line text form. Joint
// names are emitted in sorted order so re-serialisation is stable.
func (k Keyframe) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "speed:%d pause:%s output:%d", k.Speed, formatFloat(k.Pause), int(k.Output))

	names := make([]string, 0, len(k.Angles))
	for name := range k.Angles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " %s:%s", name, formatFloat(k.Angles[name]))
	}
	return sb.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Distance returns the L∞ norm across joints shared by k and other:
// the largest single-joint angle delta, which is what limits segment
// timing since every joint must finish moving together.
func (k Keyframe) Distance(other Keyframe) float64 {
	var max float64
	for name, angle := range k.Angles {
		d := math.Abs(angle - other.Angles[name])
		if d > max {
			max = d
		}
	}
	return max
}
