package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mxschwarz/robolink/pkg/keyframe"
)

// loadKeyframes reads the one-line-per-keyframe text format from
// path, skipping blank lines and '#' comments, the same tolerance
// pkg/jointconfig's grouped parser gives its own comment lines.
func loadKeyframes(path string) ([]keyframe.Keyframe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}
	defer f.Close()

	var frames []keyframe.Keyframe
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kf, err := keyframe.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("sequence: line %d: %w", lineNo, err)
		}
		frames = append(frames, kf)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}
	return frames, nil
}
