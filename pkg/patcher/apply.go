package patcher

import (
	"fmt"

	"github.com/blacktop/shiki/pkg/loader"
	"github.com/blacktop/shiki/pkg/registry"
	"github.com/blacktop/shiki/pkg/signature"
)

// Applier is the patch application collaborator. It returns how many sites were patched.
type Applier interface {
	Apply(img *loader.Image, t registry.Tuple) (int, error)
}

// BufferApplier patches the in-memory image buffer, replacing every occurrence of Find
type BufferApplier struct {
	// Limit caps the replacements per tuple (0 means all)
	Limit int
}

// Apply implements Applier
func (a *BufferApplier) Apply(img *loader.Image, t registry.Tuple) (int, error) {
	if len(t.Find) != len(t.Replace) || len(t.Find) != t.Length {
		return 0, fmt.Errorf("%s: %w", t.Section, registry.ErrLengthMismatch)
	}
	hits := signature.FindAll(img.Data, signature.Literal(t.Find), 0, -1, a.Limit)
	for _, off := range hits {
		copy(img.Data[off:], t.Replace)
	}
	return len(hits), nil
}

// Record describes one applied tuple
type Record struct {
	Image   string
	Section registry.Section
	Find    []byte
	Replace []byte
	Count   int
}
