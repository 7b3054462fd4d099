// Package loader reads images into memory and notifies the patcher when images and processes load.
package loader

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// MinImageSize is the smallest buffer worth scanning (a 64-bit Mach-O header)
const MinImageSize = 32

var (
	ErrIO            = errors.New("image read failed")
	ErrImageTooSmall = errors.New("image too small")
)

// Image is an image that has been read into memory
type Image struct {
	Path string
	// Raw is the whole file; for a fat file Data is the selected slice of it
	Raw  []byte
	Data []byte
	// SliceOffset is where Data starts inside Raw
	SliceOffset int
	// Text bounds the executable code inside Data; it covers all of Data when unknown
	TextStart int
	TextEnd   int
	// Arch names the fat slice that was selected, if any
	Arch string
}

// Size returns the buffer size
func (img *Image) Size() int {
	return len(img.Data)
}

// ReadImage reads the file at path; the logical image path is kept for matching
func ReadImage(logical, path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "%s: %v", path, err)
	}
	return NewImage(logical, data)
}

// NewImage wraps data. For fat files Data is narrowed to the x86_64 slice (sharing memory with Raw,
// so patches applied to Data show up in Raw) and Mach-O text is located so scans can be bounded to
// __TEXT,__text; anything else is scanned whole.
func NewImage(path string, data []byte) (*Image, error) {
	if len(data) < MinImageSize {
		return nil, errors.Wrapf(ErrImageTooSmall, "%s: %d bytes", path, len(data))
	}

	img := &Image{Path: path, Raw: data, Data: data, TextEnd: len(data)}

	if isFat(data) {
		if err := img.thin(); err != nil {
			return nil, err
		}
	}

	if !isMachO(img.Data) {
		log.WithField("image", path).Debug("Not a Mach-O, scanning whole buffer")
		return img, nil
	}

	m, err := macho.NewFile(bytes.NewReader(img.Data))
	if err != nil {
		log.WithError(err).WithField("image", path).Warn("Failed to parse Mach-O, scanning whole buffer")
		return img, nil
	}
	defer m.Close()

	if text := m.Section("__TEXT", "__text"); text != nil {
		start := int(text.Offset)
		end := start + int(text.Size)
		if start > 0 && end <= len(img.Data) && start < end {
			img.TextStart, img.TextEnd = start, end
		}
	}

	log.WithFields(log.Fields{
		"image": path,
		"text":  [2]int{img.TextStart, img.TextEnd},
	}).Debug("Image text range")

	return img, nil
}

func (img *Image) thin() error {
	fat, err := macho.NewFatFile(bytes.NewReader(img.Raw))
	if err != nil {
		if errors.Is(err, macho.ErrNotFat) {
			return nil
		}
		return errors.Wrapf(ErrIO, "%s: failed to parse fat mach-o: %v", img.Path, err)
	}
	defer fat.Close()

	if len(fat.Arches) == 0 {
		return errors.Wrapf(ErrIO, "%s: fat mach-o has no slices", img.Path)
	}
	arch := fat.Arches[0]
	for _, a := range fat.Arches {
		if a.CPU == types.CPUAmd64 {
			arch = a
			break
		}
	}
	end := uint64(arch.Offset) + uint64(arch.Size)
	if end > uint64(len(img.Raw)) {
		return errors.Wrapf(ErrImageTooSmall, "%s: slice %s ends at %#x", img.Path, arch.CPU, end)
	}
	img.Data = img.Raw[arch.Offset:end:end]
	img.SliceOffset = int(arch.Offset)
	img.TextEnd = len(img.Data)
	img.Arch = arch.CPU.String()
	return nil
}

func isFat(data []byte) bool {
	return binary.BigEndian.Uint32(data) == uint32(types.MagicFat)
}

func isMachO(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch types.Magic(binary.LittleEndian.Uint32(data)) {
	case types.Magic32, types.Magic64:
		return true
	}
	return false
}
