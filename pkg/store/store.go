// Package store implements the device's persistent keyframe and
// configuration storage, with wear-aware writes and the boot-time
// validity check the firmware performs on its non-volatile memory.
package store

import (
	"fmt"

	"github.com/mxschwarz/robolink/pkg/proto"
)

// Backend is the narrow persistence interface a Store writes through.
// The device binary uses a file-backed implementation; tests use an
// in-memory one.
type Backend interface {
	ReadConfig() (proto.Config, bool, error)
	WriteConfig(proto.Config) error
	ReadKeyframe(index int) (proto.Keyframe, bool, error)
	WriteKeyframe(index int, kf proto.Keyframe) error
}

// Store is the device's view of its non-volatile memory: a Config
// record and an array of keyframes, validated at boot.
type Store struct {
	backend Backend
	config  proto.Config
}

// Open loads and validates the backend's config record, falling back to
// the firmware's documented defaults (4 axes, 0 keyframes) when the
// record looks uninitialised or corrupt, mirroring mem_init.
func Open(backend Backend) (*Store, error) {
	cfg, ok, err := backend.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("store: read config: %w", err)
	}
	if !ok || !valid(cfg) {
		cfg = defaultConfig()
		if err := backend.WriteConfig(cfg); err != nil {
			return nil, fmt.Errorf("store: write default config: %w", err)
		}
	}
	return &Store{backend: backend, config: cfg}, nil
}

func valid(cfg proto.Config) bool {
	if cfg.ActiveAxes == 0xFFFF {
		return false
	}
	if cfg.NumKeyframes >= proto.MaxKeyframes {
		return false
	}
	return true
}

func defaultConfig() proto.Config {
	return proto.Config{
		NumKeyframes: 0,
		ActiveAxes:   4,
	}
}

// Config returns the currently loaded config record.
func (s *Store) Config() proto.Config { return s.config }

// SetConfig replaces the in-RAM config record. It does not persist until
// Commit is called by a higher layer; callers that want to persist
// immediately should call WriteConfig directly.
func (s *Store) SetConfig(cfg proto.Config) { s.config = cfg }

// WriteConfig persists cfg immediately and updates the in-RAM copy.
func (s *Store) WriteConfig(cfg proto.Config) error {
	if err := s.backend.WriteConfig(cfg); err != nil {
		return fmt.Errorf("store: write config: %w", err)
	}
	s.config = cfg
	return nil
}

// ReadKeyframe returns the stored keyframe at index, or an error if
// index is out of the configured range.
func (s *Store) ReadKeyframe(index int) (proto.Keyframe, error) {
	if index < 0 || index >= int(s.config.NumKeyframes) {
		return proto.Keyframe{}, fmt.Errorf("store: index %d out of range [0,%d)", index, s.config.NumKeyframes)
	}
	kf, ok, err := s.backend.ReadKeyframe(index)
	if err != nil {
		return proto.Keyframe{}, fmt.Errorf("store: read keyframe %d: %w", index, err)
	}
	if !ok {
		return proto.Keyframe{}, fmt.Errorf("store: keyframe %d never written", index)
	}
	return kf, nil
}

// WriteKeyframe writes a keyframe at an arbitrary index up to
// proto.MaxKeyframes, for use while building up a sequence prior to
// Commit.
func (s *Store) WriteKeyframe(index int, kf proto.Keyframe) error {
	if index < 0 || index >= proto.MaxKeyframes {
		return fmt.Errorf("store: index %d out of range [0,%d)", index, proto.MaxKeyframes)
	}
	if err := s.backend.WriteKeyframe(index, kf); err != nil {
		return fmt.Errorf("store: write keyframe %d: %w", index, err)
	}
	return nil
}

// MemoryBackend is an in-memory Backend, used by tests.
type MemoryBackend struct {
	cfg       proto.Config
	cfgSet    bool
	keyframes map[int]proto.Keyframe
}

// NewMemoryBackend returns an empty, uninitialised backend — ReadConfig
// reports ok=false until WriteConfig is called, just like a blank
// EEPROM read by mem_init.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{keyframes: make(map[int]proto.Keyframe)}
}

func (m *MemoryBackend) ReadConfig() (proto.Config, bool, error) {
	return m.cfg, m.cfgSet, nil
}

func (m *MemoryBackend) WriteConfig(cfg proto.Config) error {
	if m.cfgSet && m.cfg == cfg {
		return nil // wear-aware: no-op on an unchanged write
	}
	m.cfg = cfg
	m.cfgSet = true
	return nil
}

func (m *MemoryBackend) ReadKeyframe(index int) (proto.Keyframe, bool, error) {
	kf, ok := m.keyframes[index]
	return kf, ok, nil
}

func (m *MemoryBackend) WriteKeyframe(index int, kf proto.Keyframe) error {
	if existing, ok := m.keyframes[index]; ok && existing == kf {
		return nil
	}
	m.keyframes[index] = kf
	return nil
}
