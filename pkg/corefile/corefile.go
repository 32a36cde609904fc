// Package corefile parses Mach-O core dumps. It reconstructs the crashed
// process's virtual address space from the core's segment table, locates the
// dynamic linker inside it and walks dyld's image bookkeeping to recover the
// path, load address and Mach-O of every image the process had loaded.
package corefile

import (
	"io"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// scanPageSize is the stride used when hunting for the dylinker. Mach-O
// headers are page aligned in memory so probing every page boundary inside
// the dumped segments is exhaustive.
const scanPageSize = 0x1000

// imageCacheSize bounds how many parsed images are kept alive per core.
const imageCacheSize = 128

// Config tunes core file parsing.
type Config struct {
	// DylinkerHint is a load address to try for the dynamic linker before
	// falling back to scanning the whole core. Debuggers that saw the live
	// process usually know it.
	DylinkerHint uint64
}

// File represents an open Mach-O core dump. All derived state is computed
// lazily and cached, errors included, so repeated calls return identical
// results without re-reading the core.
type File struct {
	r      io.ReaderAt
	conf   Config
	closer io.Closer

	cache *lru.Cache[uint64, *Image]

	rootOnce sync.Once
	root     *Image
	rootErr  error

	memOnce sync.Once
	mem     AddressSpace

	dlAddrOnce sync.Once
	dlAddr     uint64
	dlAddrErr  error

	dylinkerOnce sync.Once
	dylinker     *Dylinker
	dylinkerErr  error

	imagesOnce sync.Once
	images     []LoadedImage
	imagesErr  error
}

// Open opens the named core file.
func Open(name string, config ...Config) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff := NewFile(f, config...)
	ff.closer = f
	return ff, nil
}

// NewFile creates a File for accessing a core dump in an underlying reader.
// Nothing is parsed until asked for, so NewFile itself cannot fail; check
// IsValid before trusting any other accessor.
func NewFile(r io.ReaderAt, config ...Config) *File {
	f := &File{r: r}
	if len(config) > 0 {
		f.conf = config[0]
	}
	f.cache, _ = lru.New[uint64, *Image](imageCacheSize)
	return f
}

// Close closes the File.
// If the File was created using NewFile directly instead of Open,
// Close has no effect.
func (f *File) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return err
}

// container parses the core's own Mach-O wrapper at file offset zero.
func (f *File) container() (*Image, error) {
	f.rootOnce.Do(func() {
		f.root, f.rootErr = parseImage(fileSpace{f.r}, 0, false)
		if f.rootErr == nil && f.root.Type() != types.MH_CORE {
			f.rootErr = errors.Wrapf(ErrNotACore, "file type is %s", f.root.Type())
		}
	})
	return f.root, f.rootErr
}

// IsValid reports whether the underlying file parsed as a Mach-O of type
// MH_CORE. Every other accessor fails on an invalid core, so callers should
// check this first.
func (f *File) IsValid() bool {
	_, err := f.container()
	return err == nil
}

// Macho returns the core's own Mach-O container.
func (f *File) Macho() (*macho.File, error) {
	root, err := f.container()
	if err != nil {
		return nil, err
	}
	return root.Macho(), nil
}

// Segments returns the core container's segment table, in load command
// order. Each segment maps a range of the crashed process's virtual memory
// to the file range it was dumped to.
func (f *File) Segments() ([]*macho.Segment, error) {
	m, err := f.Macho()
	if err != nil {
		return nil, err
	}
	return m.Segments(), nil
}

// Memory returns the crashed process's reconstructed virtual address space.
func (f *File) Memory() (AddressSpace, error) {
	root, err := f.container()
	if err != nil {
		return nil, err
	}
	f.memOnce.Do(func() {
		f.mem = &segmentSpace{r: f.r, segs: root.Macho().Segments()}
	})
	return f.mem, nil
}

// ReadMemory reads size bytes of the crashed process's memory at addr.
func (f *File) ReadMemory(addr, size uint64) ([]byte, error) {
	mem, err := f.Memory()
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if _, err := mem.ReadAt(data, addr); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d bytes at %#x", size, addr)
	}
	return data, nil
}

// GetOffset returns the file offset inside the core that backs the given
// virtual address.
func (f *File) GetOffset(address uint64) (uint64, error) {
	m, err := f.Macho()
	if err != nil {
		return 0, err
	}
	return m.GetOffset(address)
}

// GetVMAddress returns the virtual address the given core file offset was
// dumped from.
func (f *File) GetVMAddress(offset uint64) (uint64, error) {
	m, err := f.Macho()
	if err != nil {
		return 0, err
	}
	return m.GetVMAddress(offset)
}

// ImageAt parses the Mach-O loaded at the given virtual address. Parsed
// images are cached so the dylinker scan and repeated lookups stay cheap.
func (f *File) ImageAt(addr uint64) (*Image, error) {
	if img, ok := f.cache.Get(addr); ok {
		return img, nil
	}
	mem, err := f.Memory()
	if err != nil {
		return nil, err
	}
	img, err := parseImage(mem, addr, true)
	if err != nil {
		return nil, err
	}
	f.cache.Add(addr, img)
	return img, nil
}

// DylinkerAddress returns the load address of the dynamic linker inside the
// core. A configured hint that validates wins; otherwise every page boundary
// backed by the core's segments is checked for an MH_DYLINKER header.
func (f *File) DylinkerAddress() (uint64, error) {
	f.dlAddrOnce.Do(func() {
		f.dlAddr, f.dlAddrErr = f.findDylinker()
	})
	return f.dlAddr, f.dlAddrErr
}

func (f *File) findDylinker() (uint64, error) {
	root, err := f.container()
	if err != nil {
		return 0, err
	}
	if hint := f.conf.DylinkerHint; hint != 0 {
		if img, err := f.ImageAt(hint); err == nil && img.Type() == types.MH_DYLINKER {
			log.Debugf("dylinker hint %#x checks out", hint)
			return hint, nil
		}
		log.Debugf("dylinker hint %#x did not validate; scanning", hint)
	}
	for _, seg := range root.Macho().Segments() {
		for off := uint64(0); off < seg.Filesz; off += scanPageSize {
			addr := seg.Addr + off
			img, err := f.ImageAt(addr)
			if err != nil {
				continue
			}
			if img.Type() == types.MH_DYLINKER {
				log.Debugf("found dylinker at %#x", addr)
				return addr, nil
			}
		}
	}
	return 0, ErrDylinkerNotFound
}

// Dylinker locates and parses the dynamic linker, returning the view used to
// walk its image bookkeeping.
func (f *File) Dylinker() (*Dylinker, error) {
	f.dylinkerOnce.Do(func() {
		f.dylinker, f.dylinkerErr = f.parseDylinker()
	})
	return f.dylinker, f.dylinkerErr
}

func (f *File) parseDylinker() (*Dylinker, error) {
	addr, err := f.DylinkerAddress()
	if err != nil {
		return nil, err
	}
	img, err := f.ImageAt(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dylinker at %#x", addr)
	}
	return newDylinker(img), nil
}

// LoadedImages recovers every image dyld had loaded in the crashed process:
// its path, its load address and the parsed Mach-O found there. Any single
// unrecoverable image fails the whole listing; callers that can tolerate
// holes should walk Dylinker().Images() and parse images one at a time with
// ImageAt.
func (f *File) LoadedImages() ([]LoadedImage, error) {
	f.imagesOnce.Do(func() {
		f.images, f.imagesErr = f.readLoadedImages()
	})
	return f.images, f.imagesErr
}

func (f *File) readLoadedImages() ([]LoadedImage, error) {
	d, err := f.Dylinker()
	if err != nil {
		return nil, err
	}
	entries, err := d.Images()
	if err != nil {
		return nil, err
	}
	images := make([]LoadedImage, 0, len(entries))
	for _, entry := range entries {
		img, err := f.ImageAt(entry.LoadAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s at %#x", entry.Path, entry.LoadAddress)
		}
		images = append(images, LoadedImage{ImageEntry: entry, Image: img})
	}
	return images, nil
}
