package signature

import (
	"errors"
	"fmt"

	"github.com/blacktop/shiki/internal/utils"
)

// ContextSize is the number of bytes kept on either side of a hit for diagnostics
const ContextSize = 16

var ErrNotFound = errors.New("pattern not found")

// ScanResult describes a single scan for diagnostics
type ScanResult struct {
	Found   bool
	Offset  int
	Context []byte
	// ContextStart is the buffer offset of Context[0]
	ContextStart int
}

func clampWindow(buf []byte, start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(buf) {
		end = len(buf)
	}
	return start, end
}

// Find returns the offset of the first match of p that lies entirely inside buf[start:end].
// A negative end (or one past the buffer) means the end of buf.
func Find(buf []byte, p Pattern, start, end int) (int, error) {
	if p.Len() == 0 {
		return -1, ErrEmptyPattern
	}
	start, end = clampWindow(buf, start, end)
	for i := start; i+p.Len() <= end; i++ {
		if p.MatchAt(buf, i) {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// FindAll returns up to limit non-overlapping matches inside buf[start:end] (limit <= 0 means all).
// Each search restarts just past the previous hit.
func FindAll(buf []byte, p Pattern, start, end, limit int) []int {
	var offsets []int
	for limit <= 0 || len(offsets) < limit {
		off, err := Find(buf, p, start, end)
		if err != nil {
			break
		}
		offsets = append(offsets, off)
		start = off + p.Len()
	}
	return offsets
}

// Scan is Find with ContextSize bytes of diagnostic context around the hit
func Scan(buf []byte, p Pattern, start, end int) ScanResult {
	return ScanContext(buf, p, start, end, ContextSize)
}

// ScanContext is Scan with size bytes of context on either side of the hit
func ScanContext(buf []byte, p Pattern, start, end, size int) ScanResult {
	off, err := Find(buf, p, start, end)
	if err != nil {
		return ScanResult{Offset: -1}
	}
	size = max(size, 0)
	from := max(off-size, 0)
	to := min(off+p.Len()+size, len(buf))
	return ScanResult{
		Found:        true,
		Offset:       off,
		Context:      append([]byte(nil), buf[from:to]...),
		ContextStart: from,
	}
}

func (r ScanResult) String() string {
	if !r.Found {
		return "not found"
	}
	return fmt.Sprintf("found at %#x\n%s", r.Offset, utils.HexDump(r.Context, uint64(r.ContextStart)))
}
