// Package resources holds the static patch and process tables.
package resources

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/blacktop/go-plist"
	"github.com/blacktop/shiki/pkg/registry"
)

// Patches.plist lists the image patches and process hooks
//
//go:embed Patches.plist
var patchesData []byte

// AppleGVA and CoreFP are the images the default table patches
const (
	AppleGVA = "/System/Library/PrivateFrameworks/AppleGVA.framework/Versions/A/AppleGVA"
	CoreFP   = "/System/Library/PrivateFrameworks/CoreFP.framework/Versions/1/CoreFP"
)

type patch struct {
	Section string `plist:"Section"`
	Find    []byte `plist:"Find"`
	Replace []byte `plist:"Replace"`
	Dynamic bool   `plist:"Dynamic"`
	Comment string `plist:"Comment"`
}

type module struct {
	Path    string  `plist:"Path"`
	Patches []patch `plist:"Patches"`
}

type process struct {
	Path    string `plist:"Path"`
	Match   string `plist:"Match"`
	Section string `plist:"Section"`
}

type table struct {
	Modules   []module  `plist:"Modules"`
	Processes []process `plist:"Processes"`
}

// Default decodes the embedded table
func Default() ([]registry.Process, []registry.Module, error) {
	return Decode(patchesData)
}

// Decode decodes a patch table plist
func Decode(data []byte) ([]registry.Process, []registry.Module, error) {
	var t table
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, nil, fmt.Errorf("failed to decode patch table: %v", err)
	}

	var procs []registry.Process
	for _, p := range t.Processes {
		sec, err := registry.ParseSection(p.Section)
		if err != nil {
			return nil, nil, fmt.Errorf("process %s: %v", p.Path, err)
		}
		var match registry.MatchType
		switch p.Match {
		case "", "exact":
			match = registry.MatchExact
		case "prefix":
			match = registry.MatchPrefix
		case "any":
			match = registry.MatchAny
		default:
			return nil, nil, fmt.Errorf("process %s: unknown match type %q", p.Path, p.Match)
		}
		procs = append(procs, registry.Process{Path: p.Path, Match: match, Section: sec})
	}

	var mods []registry.Module
	for _, m := range t.Modules {
		mod := registry.Module{Path: m.Path}
		for _, p := range m.Patches {
			sec, err := registry.ParseSection(p.Section)
			if err != nil {
				return nil, nil, fmt.Errorf("module %s: %v", m.Path, err)
			}
			mod.Patches = append(mod.Patches, registry.Descriptor{
				Section: sec,
				Find:    p.Find,
				Replace: p.Replace,
				Dynamic: p.Dynamic,
				Comment: p.Comment,
			})
		}
		mods = append(mods, mod)
	}

	return procs, mods, nil
}
