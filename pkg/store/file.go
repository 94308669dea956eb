package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/mxschwarz/robolink/pkg/proto"
)

// FileBackend persists the config record and keyframe array to a flat
// file, the nearest portable equivalent of the firmware's EEPROM image.
// Writes are wear-aware: a record whose bytes are unchanged is not
// rewritten, matching eeprom_update_block.
type FileBackend struct {
	path string
}

// NewFileBackend opens (without yet reading) the image file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

const (
	configOffset    = 0
	keyframesOffset = 64 // leaves room for the config record plus slack
	keyframeStride  = proto.KeyframeSize
)

func (f *FileBackend) readAt(offset, length int) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if offset+length > len(data) {
		return nil, false, nil
	}
	return data[offset : offset+length], true, nil
}

func (f *FileBackend) writeAt(offset int, data []byte) error {
	existing, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		existing = nil
	}
	needed := offset + len(data)
	if len(existing) < needed {
		grown := make([]byte, needed)
		copy(grown, existing)
		existing = grown
	}
	if bytes.Equal(existing[offset:offset+len(data)], data) {
		return nil // wear-aware no-op
	}
	copy(existing[offset:offset+len(data)], data)
	return os.WriteFile(f.path, existing, 0o644)
}

func (f *FileBackend) ReadConfig() (proto.Config, bool, error) {
	raw, ok, err := f.readAt(configOffset, proto.ConfigSize)
	if err != nil || !ok {
		return proto.Config{}, false, err
	}
	cfg, err := proto.UnmarshalConfig(raw)
	if err != nil {
		return proto.Config{}, false, err
	}
	return cfg, true, nil
}

func (f *FileBackend) WriteConfig(cfg proto.Config) error {
	return f.writeAt(configOffset, cfg.Marshal())
}

func (f *FileBackend) keyframeOffset(index int) (int, error) {
	if index < 0 || index >= proto.MaxKeyframes {
		return 0, fmt.Errorf("store: keyframe index %d out of range", index)
	}
	return keyframesOffset + index*keyframeStride, nil
}

func (f *FileBackend) ReadKeyframe(index int) (proto.Keyframe, bool, error) {
	off, err := f.keyframeOffset(index)
	if err != nil {
		return proto.Keyframe{}, false, err
	}
	raw, ok, err := f.readAt(off, keyframeStride)
	if err != nil || !ok {
		return proto.Keyframe{}, false, err
	}
	kf, err := proto.UnmarshalKeyframe(raw)
	if err != nil {
		return proto.Keyframe{}, false, err
	}
	return kf, true, nil
}

func (f *FileBackend) WriteKeyframe(index int, kf proto.Keyframe) error {
	off, err := f.keyframeOffset(index)
	if err != nil {
		return err
	}
	return f.writeAt(off, kf.Marshal())
}
