// Package environment provides the facts the activation policy and the patcher depend on.
package environment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/devicetree"
	"github.com/blacktop/shiki/pkg/kernel"
)

var ErrUnavailable = errors.New("fact unavailable")

// Provider is the environment facts collaborator
type Provider interface {
	OSVersion() (kernel.Version, error)
	CPUGeneration() (cpu.Generation, error)
	// GPUPlatformID returns the IGPU framebuffer platform-id; ok is false when it is invalid
	GPUPlatformID() (id uint32, ok bool)
	// Autodetect reports whether GPU properties can be queried at all
	Autodetect() bool
	// CompanionLoaded reports whether another extension already applies the key exchange patch
	CompanionLoaded() bool
}

// ValidPlatformID rejects the values firmware leaves behind when no IGPU is configured
func ValidPlatformID(id uint32) bool {
	return id != 0 && id != 0xFFFFFFFF
}

// Static is a fixed set of facts
type Static struct {
	OS         kernel.Version
	CPU        cpu.Generation
	PlatformID uint32
	// NoAutodetect disables GPU property queries
	NoAutodetect bool
	Companion    bool
}

func (s *Static) OSVersion() (kernel.Version, error) {
	if s.OS.IsZero() {
		return kernel.Version{}, fmt.Errorf("os version: %w", ErrUnavailable)
	}
	return s.OS, nil
}

func (s *Static) CPUGeneration() (cpu.Generation, error) {
	if s.CPU == cpu.Unknown {
		return cpu.Unknown, fmt.Errorf("cpu generation: %w", ErrUnavailable)
	}
	return s.CPU, nil
}

func (s *Static) GPUPlatformID() (uint32, bool) {
	if s.NoAutodetect {
		return 0, false
	}
	return s.PlatformID, ValidPlatformID(s.PlatformID)
}

func (s *Static) Autodetect() bool      { return !s.NoAutodetect }
func (s *Static) CompanionLoaded() bool { return s.Companion }

// System detects the facts of the running machine. Any field that is set overrides detection.
type System struct {
	Release string
	CPU     cpu.Generation
	// Properties is queried for the IGPU platform-id; nil disables autodetection
	Properties devicetree.Reader
	Companion  bool
}

// OSVersion parses Release (a release like "17.7.0" or a full kernel version banner), falling back to the kernel release reported by uname
func (s *System) OSVersion() (kernel.Version, error) {
	rel := s.Release
	if rel == "" {
		var err error
		if rel, err = uname(); err != nil {
			return kernel.Version{}, fmt.Errorf("os version: %w: %v", ErrUnavailable, err)
		}
	}
	if strings.HasPrefix(rel, "Darwin Kernel Version") {
		return kernel.ParseBanner(rel)
	}
	return kernel.Parse(rel)
}

func (s *System) CPUGeneration() (cpu.Generation, error) {
	if s.CPU != cpu.Unknown {
		return s.CPU, nil
	}
	return cpu.Detect()
}

// IGPUNodes are the usual homes of the IGPU platform-id
var IGPUNodes = []string{"/PCI0@0/IGPU@2", "/PCI0@0/GFX0@2"}

type finder interface {
	Find(key string) (string, []byte, bool)
}

func (s *System) GPUPlatformID() (uint32, bool) {
	if s.Properties == nil {
		return 0, false
	}
	for _, n := range IGPUNodes {
		if v, ok := s.Properties.GetProperty(n, devicetree.PlatformIDKey); ok {
			return platformID(n, v)
		}
	}
	// imported device trees may name the IGPU differently
	if f, ok := s.Properties.(finder); ok {
		if n, v, ok := f.Find(devicetree.PlatformIDKey); ok {
			return platformID(n, v)
		}
	}
	return 0, false
}

func platformID(node string, v []byte) (uint32, bool) {
	if len(v) < 4 {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(v)
	log.WithFields(log.Fields{"node": node, "platform-id": fmt.Sprintf("%#08x", id)}).Debug("IGPU platform-id")
	return id, ValidPlatformID(id)
}

func (s *System) Autodetect() bool      { return s.Properties != nil }
func (s *System) CompanionLoaded() bool { return s.Companion }
