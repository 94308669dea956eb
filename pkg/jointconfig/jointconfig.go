// Package jointconfig loads the grouped key/value joint-definition
// file and implements the joint-angle <-> tick transform (C12) that is
// parameterised purely by a loaded JointConfig.
package jointconfig

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// PositionBias centres the wire tick range around zero, matching
// pkg/proto.PositionBias.
const PositionBias = 16384

// NoFreshReading is the feedback tick sentinel meaning "no fresh
// encoder reading"; callers must retain the last known value instead
// of converting it.
const NoFreshReading = 0x7FFF

// JointConfig describes one joint, immutable for the lifetime of a run.
type JointConfig struct {
	Name           string
	Type           string
	Address        int
	LowerLimit     float64
	UpperLimit     float64
	Offset         float64
	Length         float64
	EncToRad       float64
	MotToRad       float64
	MaxCurrent     int
	HoldCurrent    int
	Invert         bool
	JoystickAxis   int
	JoystickInvert bool
}

// Config is the loaded configuration: the global lookahead plus every
// joint, ordered by group index (JointN).
type Config struct {
	Lookahead int
	Joints    []JointConfig
}

var groupHeader = regexp.MustCompile(`^\[(.+)\]$`)
var jointGroup = regexp.MustCompile(`^Joint(\d+)$`)
var nameExp = regexp.MustCompile(`^[A-Za-z0-9_()]+$`)

var mandatory = []string{"name", "type", "address", "encoder_steps_per_turn", "motor_steps_per_turn"}

// Load reads and validates a grouped key/value joint-definition file.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("jointconfig: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the grouped key/value format from r. Groups are
// introduced by a "[name]" line; keys within a group are "key=value"
// lines. Blank lines and lines starting with ';' or '#' are ignored.
func Parse(r io.Reader) (Config, error) {
	groups, order, err := scanGroups(r)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Lookahead: 200}
	if g, ok := groups["global"]; ok {
		if v, ok := g["lookahead"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("jointconfig: global/lookahead: %w", err)
			}
			cfg.Lookahead = n
		}
	}

	byIndex := make(map[int]JointConfig)
	usedAddress := make(map[int]bool)
	maxIndex := -1

	for _, name := range order {
		if name == "global" {
			continue
		}
		m := jointGroup.FindStringSubmatch(name)
		if m == nil {
			return Config{}, fmt.Errorf("jointconfig: invalid group in configuration file: %q", name)
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return Config{}, fmt.Errorf("jointconfig: invalid group in configuration file: %q", name)
		}

		kv := groups[name]
		for _, key := range mandatory {
			if _, ok := kv[key]; !ok {
				return Config{}, fmt.Errorf("jointconfig: group %q has no %q setting, which is mandatory", name, key)
			}
		}

		address, err := strconv.Atoi(kv["address"])
		if err != nil {
			return Config{}, fmt.Errorf("jointconfig: invalid address setting in group %q", name)
		}
		if usedAddress[address] {
			return Config{}, fmt.Errorf("jointconfig: address %d is used more than once", address)
		}
		usedAddress[address] = true

		jc := JointConfig{
			Name:    kv["name"],
			Type:    kv["type"],
			Address: address,
		}
		if !nameExp.MatchString(jc.Name) {
			return Config{}, fmt.Errorf("jointconfig: the name %q contains invalid characters; only alphanumeric characters, underscores and parentheses are allowed", jc.Name)
		}

		jc.LowerLimit, err = floatOr(kv, "lower_limit", -1.0)
		if err != nil {
			return Config{}, err
		}
		jc.UpperLimit, err = floatOr(kv, "upper_limit", 1.0)
		if err != nil {
			return Config{}, err
		}
		jc.Offset, err = floatOr(kv, "offset", 0.0)
		if err != nil {
			return Config{}, err
		}
		jc.Length, err = floatOr(kv, "length", -1.0)
		if err != nil {
			return Config{}, err
		}

		encSteps, err := floatOr(kv, "encoder_steps_per_turn", 0)
		if err != nil {
			return Config{}, err
		}
		motSteps, err := floatOr(kv, "motor_steps_per_turn", 0)
		if err != nil {
			return Config{}, err
		}
		jc.EncToRad = 2 * math.Pi / encSteps
		jc.MotToRad = 2 * math.Pi / motSteps

		jc.JoystickAxis, err = intOr(kv, "joystick_axis", -1)
		if err != nil {
			return Config{}, err
		}
		joystickInvert, err := intOr(kv, "joystick_invert", 0)
		if err != nil {
			return Config{}, err
		}
		jc.JoystickInvert = joystickInvert != 0
		invert, err := intOr(kv, "invert", 0)
		if err != nil {
			return Config{}, err
		}
		jc.Invert = invert != 0

		byIndex[idx] = jc
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	cfg.Joints = make([]JointConfig, maxIndex+1)
	for i := 0; i <= maxIndex; i++ {
		jc, ok := byIndex[i]
		if !ok {
			return Config{}, fmt.Errorf("jointconfig: gap in joint specification at index %d; make sure all joints are numbered correctly", i)
		}
		cfg.Joints[i] = jc
	}

	maxAddress := 0
	for addr := range usedAddress {
		if addr > maxAddress {
			maxAddress = addr
		}
	}
	for a := 1; a <= maxAddress; a++ {
		if !usedAddress[a] {
			return Config{}, fmt.Errorf("jointconfig: address %d is not used; addresses should be chosen without gaps", a)
		}
	}

	return cfg, nil
}

// Save writes cfg back out in the grouped key/value format Parse
// reads, one JointN group per entry in cfg.Joints in order. Used by
// the configure wizard to persist zero-offset calibration. The whole
// file is regenerated from cfg, so comments and keys that Config does
// not hold are not preserved.
func Save(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jointconfig: %w", err)
	}
	defer f.Close()
	return Write(f, cfg)
}

// Write formats cfg in the grouped key/value format and writes it to w.
func Write(w io.Writer, cfg Config) error {
	if _, err := fmt.Fprintf(w, "[global]\nlookahead=%d\n", cfg.Lookahead); err != nil {
		return err
	}
	for i, j := range cfg.Joints {
		if _, err := fmt.Fprintf(w, "\n[Joint%d]\n", i); err != nil {
			return err
		}
		lines := []struct {
			key string
			val string
		}{
			{"name", j.Name},
			{"type", j.Type},
			{"address", strconv.Itoa(j.Address)},
			{"lower_limit", strconv.FormatFloat(j.LowerLimit, 'g', -1, 64)},
			{"upper_limit", strconv.FormatFloat(j.UpperLimit, 'g', -1, 64)},
			{"offset", strconv.FormatFloat(j.Offset, 'g', -1, 64)},
			{"length", strconv.FormatFloat(j.Length, 'g', -1, 64)},
			{"encoder_steps_per_turn", strconv.FormatFloat(2*math.Pi/j.EncToRad, 'g', -1, 64)},
			{"motor_steps_per_turn", strconv.FormatFloat(2*math.Pi/j.MotToRad, 'g', -1, 64)},
			{"joystick_axis", strconv.Itoa(j.JoystickAxis)},
			{"joystick_invert", boolToStr(j.JoystickInvert)},
			{"invert", boolToStr(j.Invert)},
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "%s=%s\n", l.key, l.val); err != nil {
				return err
			}
		}
	}
	return nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func scanGroups(r io.Reader) (map[string]map[string]string, []string, error) {
	groups := make(map[string]map[string]string)
	var order []string
	current := ""

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if m := groupHeader.FindStringSubmatch(line); m != nil {
			current = m[1]
			if _, ok := groups[current]; !ok {
				groups[current] = make(map[string]string)
				order = append(order, current)
			}
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, nil, fmt.Errorf("jointconfig: malformed line %q", line)
		}
		if current == "" {
			return nil, nil, fmt.Errorf("jointconfig: key %q outside of any group", key)
		}
		groups[current][strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("jointconfig: %w", err)
	}
	return groups, order, nil
}

func floatOr(kv map[string]string, key string, def float64) (float64, error) {
	v, ok := kv[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("jointconfig: %s: %w", key, err)
	}
	return f, nil
}

func intOr(kv map[string]string, key string, def int) (int, error) {
	v, ok := kv[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("jointconfig: %s: %w", key, err)
	}
	return n, nil
}

// sign returns -1 for an inverted joint, +1 otherwise.
func sign(j JointConfig) float64 {
	if j.Invert {
		return -1
	}
	return 1
}

// Transform converts a joint angle (radians) to a wire tick, per
// spec's `tick = round((s*angle + offset) / enc_to_rad) + BIAS`.
func Transform(j JointConfig, angle float64) uint16 {
	tick := math.Round((sign(j)*angle+j.Offset)/j.EncToRad) + PositionBias
	return uint16(tick)
}

// InverseTransform converts a wire tick back to a joint angle. A tick
// of NoFreshReading must not reach here; callers retain the previous
// angle instead.
func InverseTransform(j JointConfig, tick uint16) float64 {
	return sign(j) * ((float64(tick)-PositionBias)*j.EncToRad - j.Offset)
}

// EncToMot is the device config's per-axis scale factor,
// `round(256 * enc_to_rad / mot_to_rad)`.
func EncToMot(j JointConfig) uint16 {
	return uint16(math.Round(256 * j.EncToRad / j.MotToRad))
}

// Clamp restricts angle to the joint's configured limits, applied
// before every outgoing angle per spec's hardware-limits rule.
func Clamp(j JointConfig, angle float64) float64 {
	if angle < j.LowerLimit {
		return j.LowerLimit
	}
	if angle > j.UpperLimit {
		return j.UpperLimit
	}
	return angle
}
