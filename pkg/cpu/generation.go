// Package cpu classifies Intel CPUs into microarchitecture generations.
package cpu

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Generation is an Intel microarchitecture generation
type Generation int

const (
	Unknown Generation = iota
	Penryn
	Nehalem
	Westmere
	SandyBridge
	IvyBridge
	Haswell
	Broadwell
	Skylake
	KabyLake
	CoffeeLake
)

var generationNames = map[Generation]string{
	Unknown:     "unknown",
	Penryn:      "penryn",
	Nehalem:     "nehalem",
	Westmere:    "westmere",
	SandyBridge: "sandybridge",
	IvyBridge:   "ivybridge",
	Haswell:     "haswell",
	Broadwell:   "broadwell",
	Skylake:     "skylake",
	KabyLake:    "kabylake",
	CoffeeLake:  "coffeelake",
}

// family 6 model numbers
var models = map[int]Generation{
	0x17: Penryn, 0x1D: Penryn,
	0x1A: Nehalem, 0x1E: Nehalem, 0x1F: Nehalem, 0x2E: Nehalem,
	0x25: Westmere, 0x2C: Westmere, 0x2F: Westmere,
	0x2A: SandyBridge, 0x2D: SandyBridge,
	0x3A: IvyBridge, 0x3E: IvyBridge,
	0x3C: Haswell, 0x3F: Haswell, 0x45: Haswell, 0x46: Haswell,
	0x3D: Broadwell, 0x47: Broadwell, 0x4F: Broadwell, 0x56: Broadwell,
	0x4E: Skylake, 0x5E: Skylake, 0x55: Skylake,
	0x8E: KabyLake, 0x9E: KabyLake,
	0xA5: CoffeeLake, 0xA6: CoffeeLake,
}

func (g Generation) String() string {
	if name, ok := generationNames[g]; ok {
		return name
	}
	return fmt.Sprintf("generation(%d)", int(g))
}

// Parse converts a generation name (case and separator insensitive) into a Generation
func Parse(name string) (Generation, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name))
	for g, n := range generationNames {
		if g != Unknown && n == norm {
			return g, nil
		}
	}
	return Unknown, fmt.Errorf("unknown cpu generation %q", name)
}

// FromFamilyModel maps a CPUID family/model pair to a generation
func FromFamilyModel(family, model int) Generation {
	if family != 6 {
		return Unknown
	}
	if g, ok := models[model]; ok {
		return g
	}
	return Unknown
}

// Detect classifies the CPU this process runs on
func Detect() (Generation, error) {
	if cpuid.CPU.VendorID != cpuid.Intel {
		return Unknown, fmt.Errorf("unsupported cpu vendor %s", cpuid.CPU.VendorString)
	}
	g := FromFamilyModel(cpuid.CPU.Family, cpuid.CPU.Model)
	if g == Unknown {
		return Unknown, fmt.Errorf("unsupported cpu family %#x model %#x (%s)", cpuid.CPU.Family, cpuid.CPU.Model, cpuid.CPU.BrandName)
	}
	return g, nil
}
