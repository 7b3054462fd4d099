// Package template derives ready-to-apply find/replace byte runs from located sites and literal templates.
package template

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/blacktop/shiki/pkg/signature"
	semver "github.com/hashicorp/go-version"
)

// MaxSize is the largest find/replace run a template may produce
const MaxSize = 32

var (
	ErrUnsupportedDiscriminant = errors.New("no applicable delta")
	ErrTooLarge                = errors.New("patch exceeds maximum size")
	ErrBadTemplate             = errors.New("malformed template")
)

// NOP6 is the 6-byte no-op (nopw 0x0(%rax,%rax,1)) used to blank out jcc rel32 instructions
var NOP6 = []byte{0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00}

// Patch is a derived find/replace pair; both slices always have the same length
type Patch struct {
	Find    []byte
	Replace []byte
}

// Size returns the patch length in bytes
func (p *Patch) Size() int {
	return len(p.Find)
}

// Changed reports whether applying the patch would modify anything
func (p *Patch) Changed() bool {
	return !bytes.Equal(p.Find, p.Replace)
}

// CopyAndMask copies the site window out of buf into find and replace, then overwrites
// every secondary occurrence in replace with filler. Everything else stays identical.
func CopyAndMask(buf []byte, site *signature.Site, filler []byte) (*Patch, error) {
	if site.Size > MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, site.Size, MaxSize)
	}
	if len(filler) != site.SecondarySize {
		return nil, fmt.Errorf("%w: filler is %d bytes, occurrences are %d", ErrBadTemplate, len(filler), site.SecondarySize)
	}
	if site.Origin < 0 || site.Origin+site.Size > len(buf) {
		return nil, fmt.Errorf("window %#x+%d: %w", site.Origin, site.Size, signature.ErrImageTooSmall)
	}

	p := &Patch{
		Find:    append([]byte(nil), buf[site.Origin:site.Origin+site.Size]...),
		Replace: append([]byte(nil), buf[site.Origin:site.Origin+site.Size]...),
	}
	for _, occ := range site.Occurrences {
		rel := occ - site.Origin
		if rel < 0 || rel+len(filler) > site.Size {
			return nil, fmt.Errorf("occurrence %#x outside window: %w", occ, signature.ErrAmbiguousSite)
		}
		copy(p.Replace[rel:], filler)
	}
	return p, nil
}

// Literal is a byte template with an embedded little-endian int32 literal
type Literal struct {
	Name string
	// Kernels selects the Darwin versions this template applies to
	Kernels semver.Constraints
	Bytes   []byte
	// Offset is where the int32 literal lives inside Bytes
	Offset int
}

// DeltaTable maps a CPU generation to its constant in the target image
type DeltaTable map[cpu.Generation]int32

// Injector retargets an embedded literal from one CPU generation to another
type Injector struct {
	Templates []Literal
	Deltas    DeltaTable
}

// TemplateFor returns the first template whose kernel constraints match v
func (in *Injector) TemplateFor(v kernel.Version) (*Literal, error) {
	for i := range in.Templates {
		if v.Satisfies(in.Templates[i].Kernels) {
			return &in.Templates[i], nil
		}
	}
	return nil, fmt.Errorf("no template for kernel %s: %w", v, ErrUnsupportedDiscriminant)
}

// Delta returns Deltas[source] - Deltas[target]
func (in *Injector) Delta(source, target cpu.Generation) (int32, error) {
	s, ok := in.Deltas[source]
	if !ok {
		return 0, fmt.Errorf("source %s: %w", source, ErrUnsupportedDiscriminant)
	}
	t, ok := in.Deltas[target]
	if !ok {
		return 0, fmt.Errorf("target %s: %w", target, ErrUnsupportedDiscriminant)
	}
	return s - t, nil
}

// Derive builds the patch for kernel v: find is the untouched template, replace carries
// the literal adjusted by the source/target delta (two's complement wrap-around).
func (in *Injector) Derive(v kernel.Version, source, target cpu.Generation) (*Patch, error) {
	tmpl, err := in.TemplateFor(v)
	if err != nil {
		return nil, err
	}
	if len(tmpl.Bytes) > MaxSize {
		return nil, fmt.Errorf("%s: %w", tmpl.Name, ErrTooLarge)
	}
	if tmpl.Offset < 0 || tmpl.Offset+4 > len(tmpl.Bytes) {
		return nil, fmt.Errorf("%s: literal offset %d: %w", tmpl.Name, tmpl.Offset, ErrBadTemplate)
	}
	delta, err := in.Delta(source, target)
	if err != nil {
		return nil, err
	}
	p := &Patch{
		Find:    append([]byte(nil), tmpl.Bytes...),
		Replace: append([]byte(nil), tmpl.Bytes...),
	}
	WriteLiteral(p.Replace, tmpl.Offset, ReadLiteral(p.Replace, tmpl.Offset)+delta)
	return p, nil
}

// ReadLiteral reads the little-endian int32 at off
func ReadLiteral(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

// WriteLiteral writes v as a little-endian int32 at off
func WriteLiteral(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}
