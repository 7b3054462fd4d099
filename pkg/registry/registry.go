// Package registry holds the fixed table of patch descriptors and their section activation state.
//
// Descriptors live in an arena and are addressed by stable Handles; every mutation goes
// through a Registry method. Each descriptor keeps the section it was declared with (its
// tag) and a current section that SetSection flips; a descriptor whose current section is
// SectionUnused is filtered out when tuples are produced.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// MaxPatchSize bounds every find/replace run held by the registry
const MaxPatchSize = 32

var (
	ErrInvalidHandle     = errors.New("invalid descriptor handle")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrLengthMismatch    = errors.New("find and replace lengths differ")
	ErrNotDynamic        = errors.New("descriptor is not dynamic")
	ErrSealed            = errors.New("descriptor already derived for this load")
)

// Handle addresses a descriptor inside a Registry
type Handle int

// Descriptor is a single find/replace patch
type Descriptor struct {
	Section Section
	Find    []byte
	Replace []byte
	// Dynamic descriptors have no bytes until they are derived from a loaded image
	Dynamic bool
	Comment string
}

// Size returns the byte length of the patch (0 for an underived dynamic descriptor)
func (d Descriptor) Size() int {
	return len(d.Find)
}

// Module is the set of descriptors targeting one image
type Module struct {
	Path    string
	Patches []Descriptor
}

// MatchType controls how a process path is compared against launched executables
type MatchType int

const (
	MatchExact MatchType = iota
	MatchPrefix
	MatchAny
)

// Process is a process-load hook entry; it shares the section scheme with descriptors
type Process struct {
	Path    string
	Match   MatchType
	Section Section
}

// Matches reports whether the hook applies to the executable at path
func (p Process) Matches(path string) bool {
	switch p.Match {
	case MatchAny:
		return true
	case MatchPrefix:
		return strings.HasPrefix(path, p.Path)
	default:
		return path == p.Path
	}
}

// Tuple is what the patch-application collaborator receives for one active descriptor
type Tuple struct {
	Image   string
	Find    []byte
	Replace []byte
	Length  int
	Section Section
}

type entry struct {
	desc    Descriptor
	current Section
	module  int
	sealed  bool
}

type procEntry struct {
	proc    Process
	current Section
}

// Registry is the fixed descriptor table built at start-up
type Registry struct {
	entries []entry
	modules []moduleEntry
	procs   []procEntry
}

type moduleEntry struct {
	path    string
	handles []Handle
}

// New builds a registry from the static process and module tables
func New(procs []Process, mods []Module) (*Registry, error) {
	r := &Registry{}
	for _, p := range procs {
		r.procs = append(r.procs, procEntry{proc: p, current: p.Section})
	}
	for mi, m := range mods {
		if m.Path == "" {
			return nil, fmt.Errorf("%w: module %d has no path", ErrInvalidDescriptor, mi)
		}
		me := moduleEntry{path: m.Path}
		for pi, d := range m.Patches {
			if err := validate(d); err != nil {
				return nil, fmt.Errorf("%s patch %d: %w", m.Path, pi, err)
			}
			d.Find = clone(d.Find)
			d.Replace = clone(d.Replace)
			me.handles = append(me.handles, Handle(len(r.entries)))
			r.entries = append(r.entries, entry{desc: d, current: d.Section, module: mi})
		}
		r.modules = append(r.modules, me)
	}
	return r, nil
}

func validate(d Descriptor) error {
	if d.Section == SectionUnused {
		return fmt.Errorf("%w: declared with the unused section", ErrInvalidDescriptor)
	}
	if d.Dynamic {
		if len(d.Find) != 0 || len(d.Replace) != 0 {
			return fmt.Errorf("%w: dynamic descriptor declared with bytes", ErrInvalidDescriptor)
		}
		return nil
	}
	if len(d.Find) == 0 {
		return fmt.Errorf("%w: empty find", ErrInvalidDescriptor)
	}
	if len(d.Find) != len(d.Replace) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(d.Find), len(d.Replace))
	}
	if len(d.Find) > MaxPatchSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidDescriptor, len(d.Find), MaxPatchSize)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Registry) entry(h Handle) (*entry, error) {
	if h < 0 || int(h) >= len(r.entries) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return &r.entries[h], nil
}

// SetSection moves every descriptor and process hook currently in section id into to.
// It returns the number of entries changed.
func (r *Registry) SetSection(id, to Section) int {
	var n int
	for i := range r.entries {
		if r.entries[i].current == id {
			r.entries[i].current = to
			n++
		}
	}
	for i := range r.procs {
		if r.procs[i].current == id {
			r.procs[i].current = to
			n++
		}
	}
	return n
}

// Disable moves section id to SectionUnused
func (r *Registry) Disable(id Section) int {
	if id == SectionUnused {
		return 0
	}
	return r.SetSection(id, SectionUnused)
}

// FindBySection returns the handles of every descriptor tagged with id, active or not
func (r *Registry) FindBySection(id Section) []Handle {
	var hs []Handle
	for i := range r.entries {
		if r.entries[i].desc.Section == id {
			hs = append(hs, Handle(i))
		}
	}
	return hs
}

// SectionActive reports whether any descriptor or process hook tagged id is still active
func (r *Registry) SectionActive(id Section) bool {
	for i := range r.entries {
		if r.entries[i].desc.Section == id && r.entries[i].current != SectionUnused {
			return true
		}
	}
	for i := range r.procs {
		if r.procs[i].proc.Section == id && r.procs[i].current != SectionUnused {
			return true
		}
	}
	return false
}

// Descriptor returns a copy of the descriptor behind h
func (r *Registry) Descriptor(h Handle) (Descriptor, error) {
	e, err := r.entry(h)
	if err != nil {
		return Descriptor{}, err
	}
	d := e.desc
	d.Find = clone(d.Find)
	d.Replace = clone(d.Replace)
	return d, nil
}

// Current returns the section h is currently in
func (r *Registry) Current(h Handle) Section {
	e, err := r.entry(h)
	if err != nil {
		return SectionUnused
	}
	return e.current
}

// Active reports whether h will be considered at apply time
func (r *Registry) Active(h Handle) bool {
	return r.Current(h) != SectionUnused
}

// Ready reports whether h is active and, if dynamic, fully derived for the current load
func (r *Registry) Ready(h Handle) bool {
	e, err := r.entry(h)
	if err != nil || e.current == SectionUnused {
		return false
	}
	return !e.desc.Dynamic || e.sealed
}

// Path returns the image path the descriptor targets
func (r *Registry) Path(h Handle) string {
	e, err := r.entry(h)
	if err != nil {
		return ""
	}
	return r.modules[e.module].path
}

// Fill stores derived bytes for a dynamic descriptor and seals it until the next load
func (r *Registry) Fill(h Handle, find, replace []byte) error {
	e, err := r.entry(h)
	if err != nil {
		return err
	}
	switch {
	case !e.desc.Dynamic:
		return fmt.Errorf("%w: %d", ErrNotDynamic, h)
	case e.sealed:
		return fmt.Errorf("%w: %d", ErrSealed, h)
	case len(find) == 0:
		return fmt.Errorf("%w: empty find", ErrInvalidDescriptor)
	case len(find) != len(replace):
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(find), len(replace))
	case len(find) > MaxPatchSize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidDescriptor, len(find), MaxPatchSize)
	}
	e.desc.Find = clone(find)
	e.desc.Replace = clone(replace)
	e.sealed = true
	return nil
}

// BeginLoad unseals and clears every dynamic descriptor of the image at path so it can be
// re-derived. It returns the handles of all descriptors targeting that image.
func (r *Registry) BeginLoad(path string) []Handle {
	var hs []Handle
	for _, m := range r.modules {
		if m.path != path {
			continue
		}
		for _, h := range m.handles {
			e := &r.entries[h]
			if e.desc.Dynamic {
				e.desc.Find = nil
				e.desc.Replace = nil
				e.sealed = false
			}
			hs = append(hs, h)
		}
	}
	return hs
}

// Handles returns the handles of every descriptor targeting the image at path
func (r *Registry) Handles(path string) []Handle {
	var hs []Handle
	for _, m := range r.modules {
		if m.path == path {
			hs = append(hs, m.handles...)
		}
	}
	return hs
}

// HasModule reports whether any module targets path
func (r *Registry) HasModule(path string) bool {
	for _, m := range r.modules {
		if m.path == path {
			return true
		}
	}
	return false
}

// ModulePaths lists the image paths of every module in table order
func (r *Registry) ModulePaths() []string {
	paths := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		paths = append(paths, m.path)
	}
	return paths
}

// Tuples returns the apply tuples for the image at path: active, fully derived descriptors only
func (r *Registry) Tuples(path string) []Tuple {
	var ts []Tuple
	for _, m := range r.modules {
		if m.path != path {
			continue
		}
		for _, h := range m.handles {
			if !r.Ready(h) {
				continue
			}
			e := &r.entries[h]
			ts = append(ts, Tuple{
				Image:   m.path,
				Find:    clone(e.desc.Find),
				Replace: clone(e.desc.Replace),
				Length:  len(e.desc.Find),
				Section: e.desc.Section,
			})
		}
	}
	return ts
}

// Processes returns the process hooks that are still active
func (r *Registry) Processes() []Process {
	var ps []Process
	for _, p := range r.procs {
		if p.current != SectionUnused {
			ps = append(ps, p.proc)
		}
	}
	return ps
}

// Len returns the number of descriptors
func (r *Registry) Len() int {
	return len(r.entries)
}

// Close releases the tables; the registry is empty afterwards
func (r *Registry) Close() {
	r.entries = nil
	r.modules = nil
	r.procs = nil
}
