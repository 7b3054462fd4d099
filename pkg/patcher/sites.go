package patcher

import (
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/blacktop/shiki/pkg/signature"
	"github.com/blacktop/shiki/pkg/template"
	semver "github.com/hashicorp/go-version"
)

// DefaultTarget is the generation the compatible renderer is retargeted to
const DefaultTarget = cpu.IvyBridge

// NVIDIALocator finds the pair of vendor-id conditional branches in AppleGVA.
// Sierra and older compare eax against the NVIDIA vendor id, newer releases compare ecx.
var NVIDIALocator = &signature.Locator{
	Name:        "nvidia-vendor-check",
	Threshold:   kernel.Last(kernel.Sierra),
	Above:       signature.MustParse("81 F9 DE 10 00 00"),
	AtOrBelow:   signature.MustParse("3D DE 10 00 00"),
	Secondary:   signature.MustParse("0F 85 ?? ?? ?? ??"),
	Occurrences: 2,
	Window:      signature.DefaultWindow,
	PatchSize:   20,
}

// CompatInjector retargets the rip-relative reference to the per-generation renderer table
var CompatInjector = &template.Injector{
	Templates: []template.Literal{
		{
			Name:    "renderer-table-sierra",
			Kernels: constraints("< 17.0.0"),
			// lea rax, [rip+disp32]; movsxd rcx, ecx; mov eax, [rax+rcx*4]
			Bytes:  []byte{0x48, 0x8D, 0x05, 0x3C, 0x5A, 0x01, 0x00, 0x48, 0x63, 0xC9, 0x8B, 0x04, 0x88},
			Offset: 3,
		},
		{
			Name:    "renderer-table-high-sierra",
			Kernels: constraints(">= 17.0.0, < 18.0.0"),
			// lea rcx, [rip+disp32]; mov eax, [rcx+rax*4]
			Bytes:  []byte{0x48, 0x8D, 0x0D, 0x94, 0x7B, 0x01, 0x00, 0x8B, 0x04, 0x81},
			Offset: 3,
		},
		{
			Name:    "renderer-table-mojave",
			Kernels: constraints(">= 18.0.0"),
			// lea rdx, [rip+disp32]; mov esi, [rdx+rax*4]
			Bytes:  []byte{0x48, 0x8D, 0x15, 0x08, 0x93, 0x01, 0x00, 0x8B, 0x34, 0x82},
			Offset: 3,
		},
	},
	// byte offset of each generation's row in the renderer table
	Deltas: template.DeltaTable{
		cpu.Penryn:      0x00,
		cpu.Nehalem:     0x10,
		cpu.Westmere:    0x20,
		cpu.SandyBridge: 0x30,
		cpu.IvyBridge:   0x40,
		cpu.Haswell:     0x50,
		cpu.Broadwell:   0x60,
		cpu.Skylake:     0x70,
		cpu.KabyLake:    0x80,
	},
}

func constraints(s string) semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}
