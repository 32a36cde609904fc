package corefile

import (
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/pkg/errors"
)

// Dylinker is a view over the dynamic linker image recovered from a core. It
// walks dyld's image bookkeeping to list what was loaded where in the crashed
// process. All accessors are lazy and cache their first result, error
// included.
type Dylinker struct {
	image *Image

	addrOnce sync.Once
	addr     uint64
	addrErr  error

	infosOnce sync.Once
	infos     *AllImageInfos
	infosErr  error

	arrayOnce sync.Once
	array     []ImageInfo
	arrayErr  error

	imagesOnce sync.Once
	images     []ImageEntry
	imagesErr  error
}

func newDylinker(image *Image) *Dylinker {
	return &Dylinker{image: image}
}

// Image returns the parsed dylinker Mach-O.
func (d *Dylinker) Image() *Image {
	return d.image
}

// Path returns the dylinker's install path from its LC_ID_DYLINKER load
// command, or an empty string if it carries none.
func (d *Dylinker) Path() string {
	for _, load := range d.image.Macho().Loads {
		if id, ok := load.(*macho.DylinkerID); ok {
			return id.Name
		}
	}
	return ""
}

// AllImageInfosAddress returns the runtime address of dyld's image
// bookkeeping structure, found through the dylinker's own symbol table and
// slid to where the dylinker actually loaded.
func (d *Dylinker) AllImageInfosAddress() (uint64, error) {
	d.addrOnce.Do(func() {
		d.addr, d.addrErr = d.findImageInfos()
	})
	return d.addr, d.addrErr
}

func (d *Dylinker) findImageInfos() (uint64, error) {
	m := d.image.Macho()
	if m.Symtab == nil {
		return 0, ErrSymbolNotFound
	}
	var (
		found bool
		value uint64
	)
	for _, sym := range m.Symtab.Syms {
		if !strings.Contains(sym.Name, DyldInfoSymbol) {
			continue
		}
		if found && sym.Value != value {
			return 0, errors.Wrapf(ErrAmbiguousSymbol, "%#x != %#x", value, sym.Value)
		}
		value = sym.Value
		found = true
	}
	if !found {
		return 0, ErrSymbolNotFound
	}
	addr := d.image.Translate(value)
	log.Debugf("found %s at %#x (slid from %#x)", DyldInfoSymbol, addr, value)
	return addr, nil
}

// AllImageInfos reads the header of dyld's bookkeeping structure. The version
// tag is read first so future layouts can be told apart; anything other than
// version 2 is reported at debug level and decoded as the version 2 prefix,
// which has been stable across dyld releases.
func (d *Dylinker) AllImageInfos() (*AllImageInfos, error) {
	d.infosOnce.Do(func() {
		d.infos, d.infosErr = d.readImageInfos()
	})
	return d.infos, d.infosErr
}

func (d *Dylinker) readImageInfos() (*AllImageInfos, error) {
	addr, err := d.AllImageInfosAddress()
	if err != nil {
		return nil, err
	}
	var version uint32
	if err := d.image.ReadStructAt(addr, &version); err != nil {
		return nil, errors.Wrapf(err, "failed to read all image infos version at %#x", addr)
	}
	if version != 2 {
		log.Debugf("unexpected all image infos version %d (expected 2)", version)
	}
	info := new(AllImageInfos)
	if d.image.Is64bit() {
		var raw allImageInfos64
		if err := d.image.ReadStructAt(addr, &raw); err != nil {
			return nil, errors.Wrapf(err, "failed to read all image infos at %#x", addr)
		}
		info.Version = raw.Version
		info.InfoArrayCount = raw.InfoArrayCount
		info.InfoArrayAddr = raw.InfoArrayAddr
	} else {
		var raw allImageInfos32
		if err := d.image.ReadStructAt(addr, &raw); err != nil {
			return nil, errors.Wrapf(err, "failed to read all image infos at %#x", addr)
		}
		info.Version = raw.Version
		info.InfoArrayCount = raw.InfoArrayCount
		info.InfoArrayAddr = uint64(raw.InfoArrayAddr)
	}
	log.Debugf("all image infos v%d: %d images at %#x", info.Version, info.InfoArrayCount, info.InfoArrayAddr)
	return info, nil
}

// ImageInfos reads dyld's info array: one record per loaded image, pointer
// width matching the dylinker.
func (d *Dylinker) ImageInfos() ([]ImageInfo, error) {
	d.arrayOnce.Do(func() {
		d.array, d.arrayErr = d.readInfoArray()
	})
	return d.array, d.arrayErr
}

func (d *Dylinker) readInfoArray() ([]ImageInfo, error) {
	hdr, err := d.AllImageInfos()
	if err != nil {
		return nil, err
	}
	if hdr.InfoArrayCount > maxImageCount {
		return nil, errors.Errorf("implausible image count %d in all image infos", hdr.InfoArrayCount)
	}
	infos := make([]ImageInfo, hdr.InfoArrayCount)
	if hdr.InfoArrayCount == 0 {
		return infos, nil
	}
	if d.image.Is64bit() {
		raw := make([]imageInfo64, hdr.InfoArrayCount)
		if err := d.image.ReadStructAt(hdr.InfoArrayAddr, raw); err != nil {
			return nil, errors.Wrapf(err, "failed to read info array at %#x", hdr.InfoArrayAddr)
		}
		for i, r := range raw {
			infos[i] = ImageInfo{
				LoadAddress: r.LoadAddress,
				PathAddress: r.PathAddress,
				ModTime:     r.ModTime,
			}
		}
	} else {
		raw := make([]imageInfo32, hdr.InfoArrayCount)
		if err := d.image.ReadStructAt(hdr.InfoArrayAddr, raw); err != nil {
			return nil, errors.Wrapf(err, "failed to read info array at %#x", hdr.InfoArrayAddr)
		}
		for i, r := range raw {
			infos[i] = ImageInfo{
				LoadAddress: uint64(r.LoadAddress),
				PathAddress: uint64(r.PathAddress),
				ModTime:     uint64(r.ModTime),
			}
		}
	}
	return infos, nil
}

// Images resolves every info array record to its path string and returns the
// (path, load address) pairs the crashed process had loaded. A single
// unreadable path fails the whole listing.
func (d *Dylinker) Images() ([]ImageEntry, error) {
	d.imagesOnce.Do(func() {
		d.images, d.imagesErr = d.readImages()
	})
	return d.images, d.imagesErr
}

func (d *Dylinker) readImages() ([]ImageEntry, error) {
	infos, err := d.ImageInfos()
	if err != nil {
		return nil, err
	}
	entries := make([]ImageEntry, 0, len(infos))
	for _, info := range infos {
		path, err := d.image.ReadStringAt(info.PathAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read image path at %#x", info.PathAddress)
		}
		entries = append(entries, ImageEntry{
			Path:        path,
			LoadAddress: info.LoadAddress,
			ModTime:     info.ModTime,
		})
	}
	return entries, nil
}
