package signature

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/shiki/pkg/kernel"
)

// DefaultWindow is how far past the anchor secondary occurrences are searched for
const DefaultWindow = 128

var (
	ErrAmbiguousSite  = errors.New("ambiguous patch site")
	ErrImageTooSmall  = errors.New("image too small for patch window")
	ErrInvalidLocator = errors.New("invalid site locator")
)

// Locator homes in on a patch site with an anchor scan followed by a bounded secondary scan.
//
// The anchor is picked by kernel version: Above is used for versions strictly greater
// than Threshold, AtOrBelow otherwise (the compiler emits different code across that
// boundary). Secondary must then occur Occurrences times within Window bytes of the
// anchor, and every occurrence has to fit inside a single PatchSize window starting
// at the first one.
type Locator struct {
	Name        string
	Threshold   kernel.Version
	Above       Pattern
	AtOrBelow   Pattern
	Secondary   Pattern
	Occurrences int
	Window      int
	PatchSize   int
}

// Site is a located patch site
type Site struct {
	Anchor int
	// Origin is the offset of the first secondary occurrence and the start of the patch window
	Origin int
	// Occurrences holds the absolute offsets of every secondary occurrence (Occurrences[0] == Origin)
	Occurrences   []int
	Size          int
	SecondarySize int
}

// AnchorFor returns the anchor pattern used for the kernel version
func (l *Locator) AnchorFor(v kernel.Version) Pattern {
	if v.Compare(l.Threshold) > 0 {
		return l.Above
	}
	return l.AtOrBelow
}

func (l *Locator) verify() error {
	switch {
	case l.Occurrences < 1:
		return fmt.Errorf("%w: %s needs at least one secondary occurrence", ErrInvalidLocator, l.Name)
	case l.Secondary.Len() == 0:
		return fmt.Errorf("%w: %s has no secondary pattern", ErrInvalidLocator, l.Name)
	case l.PatchSize < l.Secondary.Len():
		return fmt.Errorf("%w: %s patch size %d smaller than secondary pattern", ErrInvalidLocator, l.Name, l.PatchSize)
	}
	return nil
}

// Locate searches buf[start:end] for the site. The patch window itself may extend past end but never past buf.
func (l *Locator) Locate(buf []byte, start, end int, v kernel.Version) (*Site, error) {
	if err := l.verify(); err != nil {
		return nil, err
	}
	anchor := l.AnchorFor(v)
	aoff, err := Find(buf, anchor, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: anchor %s: %w", l.Name, anchor, err)
	}

	window := l.Window
	if window <= 0 {
		window = DefaultWindow
	}
	hits := FindAll(buf, l.Secondary, aoff, aoff+window, l.Occurrences)
	log.WithFields(log.Fields{
		"site":   l.Name,
		"anchor": fmt.Sprintf("%#x", aoff),
		"hits":   len(hits),
	}).Debug("Secondary scan")
	if len(hits) < l.Occurrences {
		return nil, fmt.Errorf("%s: found %d of %d secondary occurrences near anchor %#x: %w",
			l.Name, len(hits), l.Occurrences, aoff, ErrAmbiguousSite)
	}

	first := hits[0]
	limit := first + l.PatchSize - l.Secondary.Len()
	for _, off := range hits[1:] {
		if off > limit {
			return nil, fmt.Errorf("%s: occurrence %#x outside patch window [%#x, %#x]: %w",
				l.Name, off, first, limit, ErrAmbiguousSite)
		}
	}
	if first+l.PatchSize > len(buf) {
		return nil, fmt.Errorf("%s: window %#x+%d exceeds image size %#x: %w",
			l.Name, first, l.PatchSize, len(buf), ErrImageTooSmall)
	}

	return &Site{
		Anchor:        aoff,
		Origin:        first,
		Occurrences:   hits,
		Size:          l.PatchSize,
		SecondarySize: l.Secondary.Len(),
	}, nil
}
