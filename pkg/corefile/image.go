package corefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// Image is a Mach-O parsed out of an address space. The base address and mode
// fix the image's coordinate system: a file relative image resolves addresses
// through its own segment table to offsets from base, a loaded image treats
// addresses as absolute locations in the space it was parsed from.
type Image struct {
	m      *macho.File
	space  AddressSpace
	base   uint64
	loaded bool
}

// parseImage parses the Mach-O found at base in the given address space.
func parseImage(space AddressSpace, base uint64, loaded bool) (*Image, error) {
	m, err := macho.NewFile(spaceReader{space: space, base: base})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse Mach-O at %#x", base)
	}
	return &Image{m: m, space: space, base: base, loaded: loaded}, nil
}

// Macho returns the parsed Mach-O.
func (i *Image) Macho() *macho.File {
	return i.m
}

// Base returns the address the image was parsed at.
func (i *Image) Base() uint64 {
	return i.base
}

// PreferredBase returns the load address the image was linked for.
func (i *Image) PreferredBase() uint64 {
	return i.m.GetBaseAddress()
}

// Slide returns the difference between where the image runs and where it was
// linked to run. Only meaningful for loaded images.
func (i *Image) Slide() uint64 {
	return i.base - i.PreferredBase()
}

// Type returns the Mach-O file type.
func (i *Image) Type() types.HeaderFileType {
	return i.m.Type
}

// Size returns how far the image's mapped segments extend past its base
// address. __PAGEZERO sits below the base and is not counted.
func (i *Image) Size() uint64 {
	var end uint64
	for _, seg := range i.m.Segments() {
		if seg.Name == "__PAGEZERO" {
			continue
		}
		if top := i.Translate(seg.Addr) + seg.Memsz; top > end {
			end = top
		}
	}
	if end < i.base {
		return 0
	}
	return end - i.base
}

// Is64bit reports whether the image is a 64-bit Mach-O.
func (i *Image) Is64bit() bool {
	return i.m.Magic == types.Magic64
}

// Translate converts an address out of the image's statically linked layout
// into the coordinate system the image lives in, applying the load bias.
func (i *Image) Translate(staticAddr uint64) uint64 {
	return staticAddr - i.PreferredBase() + i.base
}

// resolve maps an image coordinate to a location in the backing address space.
func (i *Image) resolve(addr uint64) (uint64, error) {
	if i.loaded {
		return addr, nil
	}
	off, err := i.m.GetOffset(addr)
	if err != nil {
		return 0, err
	}
	return i.base + off, nil
}

// ReadAtAddr fills p from the given address in the image's coordinate system.
// Short reads are errors.
func (i *Image) ReadAtAddr(p []byte, addr uint64) error {
	loc, err := i.resolve(addr)
	if err != nil {
		return err
	}
	if _, err := i.space.ReadAt(p, loc); err != nil {
		return errors.Wrapf(err, "failed to read %d bytes at %#x", len(p), addr)
	}
	return nil
}

// ReadStructAt decodes a fixed-size value at the given address using the
// image's byte order. v follows the binary.Read contract.
func (i *Image) ReadStructAt(addr uint64, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return errors.Errorf("value of type %T has no fixed size", v)
	}
	buf := make([]byte, size)
	if err := i.ReadAtAddr(buf, addr); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), i.m.ByteOrder, v)
}

// ReadStringAt reads a NUL terminated string at the given address.
func (i *Image) ReadStringAt(addr uint64) (string, error) {
	loc, err := i.resolve(addr)
	if err != nil {
		return "", err
	}
	sr := io.NewSectionReader(spaceReader{space: i.space}, int64(loc), maxPathLength)
	s, err := bufio.NewReader(sr).ReadString('\x00')
	if err != nil {
		return "", errors.Wrapf(err, "failed to read string at %#x", addr)
	}
	if len(s) > 0 {
		return strings.Trim(s, "\x00"), nil
	}
	return "", errors.Errorf("string not found at %#x", addr)
}
