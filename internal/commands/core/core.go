// Package core implements the `corefile` commands
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// extractChunkSize is how much image data is copied per read while
// reassembling an image out of a core.
const extractChunkSize = 1 << 20

// Segment describes one range of the crashed process's memory captured by a
// core file.
type Segment struct {
	Addr   uint64 `json:"addr"`
	Memsz  uint64 `json:"memsz"`
	Offset uint64 `json:"offset"`
	Filesz uint64 `json:"filesz"`
	Prot   string `json:"prot,omitempty"`
}

// Dylinker is a struct that contains information about the dynamic linker
// found inside a core file
type Dylinker struct {
	Address        uint64 `json:"address"`
	Path           string `json:"path,omitempty"`
	Slide          int64  `json:"slide,omitempty"`
	ImageInfosAddr uint64 `json:"image_infos_addr,omitempty"`
	Version        uint32 `json:"image_infos_version,omitempty"`
	ImageCount     uint32 `json:"image_count,omitempty"`
}

// Image is a struct that contains information about an image recovered from
// a core file
type Image struct {
	Index       int    `json:"index,omitempty"`
	Path        string `json:"path,omitempty"`
	LoadAddress uint64 `json:"load_address,omitempty"`
	Slide       int64  `json:"slide,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	UUID        string `json:"uuid,omitempty"`
	Version     string `json:"version,omitempty"`
	Arch        string `json:"arch,omitempty"`
	ModTime     int64  `json:"mod_time,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Info is a struct that contains information about a Mach-O core file
type Info struct {
	Magic    string    `json:"magic,omitempty"`
	Arch     string    `json:"arch,omitempty"`
	FileType string    `json:"file_type,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Dylinker *Dylinker `json:"dylinker,omitempty"`
}

// GetInfo returns an Info struct for a given Mach-O core file. A core with no
// recoverable dynamic linker still gets its container described; the Dylinker
// field is left nil.
func GetInfo(f *corefile.File) (*Info, error) {
	m, err := f.Macho()
	if err != nil {
		return nil, err
	}

	info := &Info{
		Magic:    m.Magic.String(),
		Arch:     m.CPU.String(),
		FileType: m.Type.String(),
	}

	for _, seg := range m.Segments() {
		info.Segments = append(info.Segments, Segment{
			Addr:   seg.Addr,
			Memsz:  seg.Memsz,
			Offset: seg.Offset,
			Filesz: seg.Filesz,
			Prot:   seg.Prot.String(),
		})
	}

	d, err := f.Dylinker()
	if err != nil {
		if errors.Is(err, corefile.ErrDylinkerNotFound) {
			log.WithError(err).Debug("no dynamic linker recovered")
			return info, nil
		}
		return nil, err
	}

	info.Dylinker = &Dylinker{
		Address: d.Image().Base(),
		Path:    d.Path(),
		Slide:   int64(d.Image().Slide()),
	}

	if hdr, err := d.AllImageInfos(); err == nil {
		addr, _ := d.AllImageInfosAddress()
		info.Dylinker.ImageInfosAddr = addr
		info.Dylinker.Version = hdr.Version
		info.Dylinker.ImageCount = hdr.InfoArrayCount
	} else {
		log.WithError(err).Debug("failed to read all image infos")
	}

	return info, nil
}

// GetImages returns the images the crashed process had loaded. With missingOK
// set, images whose memory was not captured by the core are reported with an
// Error instead of failing the whole listing.
func GetImages(f *corefile.File, missingOK bool) ([]Image, error) {
	if !missingOK {
		loaded, err := f.LoadedImages()
		if err != nil {
			return nil, err
		}
		images := make([]Image, 0, len(loaded))
		for idx, li := range loaded {
			images = append(images, newImage(idx, li.ImageEntry, li.Image))
		}
		return images, nil
	}

	d, err := f.Dylinker()
	if err != nil {
		return nil, err
	}
	entries, err := d.Images()
	if err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(entries))
	for idx, entry := range entries {
		img, err := f.ImageAt(entry.LoadAddress)
		if err != nil {
			log.WithError(err).Debugf("skipping %s", entry.Path)
			images = append(images, Image{
				Index:       idx + 1,
				Path:        entry.Path,
				LoadAddress: entry.LoadAddress,
				ModTime:     int64(entry.ModTime),
				Error:       err.Error(),
			})
			continue
		}
		images = append(images, newImage(idx, entry, img))
	}
	return images, nil
}

func newImage(idx int, entry corefile.ImageEntry, img *corefile.Image) Image {
	m := img.Macho()
	out := Image{
		Index:       idx + 1,
		Path:        entry.Path,
		LoadAddress: entry.LoadAddress,
		Slide:       int64(img.Slide()),
		FileType:    m.Type.String(),
		Arch:        m.CPU.String(),
		ModTime:     int64(entry.ModTime),
	}
	if m.UUID() != nil {
		out.UUID = m.UUID().String()
	}
	if m.SourceVersion() != nil {
		out.Version = m.SourceVersion().Version.String()
	}
	return out
}

// ExtractImages reassembles the core's loaded images into standalone Mach-O
// files under the output directory and returns the paths written. filter,
// when non-nil, selects which image paths to extract. Any selected image
// whose memory was not fully captured fails the extraction.
func ExtractImages(f *corefile.File, output string, filter func(string) bool) ([]string, error) {
	d, err := f.Dylinker()
	if err != nil {
		return nil, err
	}
	entries, err := d.Images()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(output, 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", output)
	}

	log.Infof("Extracting images to %s", output)

	var p *mpb.Progress
	var bar *mpb.Bar
	if filter == nil && len(entries) > 0 {
		// initialize progress bar
		p = mpb.New(mpb.WithWidth(80))
		// adding a single bar, which will inherit container's width
		name := "      "
		bar = p.New(int64(len(entries)),
			// progress bar filler with customized style
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name), C: decor.DindentRight | decor.DextraSpace}),
				// replace ETA decorator with "done" message, OnComplete event
				decor.OnComplete(
					decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ ",
				),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("%d/%d"),
				decor.Name(" ] "),
			),
		)
	}

	var mu sync.Mutex
	var created []string

	var g errgroup.Group
	for _, entry := range entries {
		if filter != nil && !filter(entry.Path) {
			continue
		}
		img, err := f.ImageAt(entry.LoadAddress)
		if err != nil {
			if bar != nil {
				bar.Abort(true)
				p.Wait()
			}
			return nil, errors.Wrapf(err, "failed to parse %s at %#x", entry.Path, entry.LoadAddress)
		}
		entry := entry
		fname := filepath.Join(output, filepath.Base(entry.Path))
		g.Go(func() error {
			n, err := writeImage(img, fname)
			if err != nil {
				return errors.Wrapf(err, "failed to extract %s", entry.Path)
			}
			mu.Lock()
			if bar != nil {
				bar.Increment()
			} else {
				utils.Indent(log.Info, 2)(fmt.Sprintf("Created %s (%s)", fname, humanize.Bytes(n)))
			}
			created = append(created, fname)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if bar != nil {
			bar.Abort(true)
		}
		if p != nil {
			p.Wait()
		}
		return nil, err
	}
	if p != nil {
		p.Wait()
	}

	sort.Strings(created)
	return created, nil
}

// writeImage copies each of the image's segments out of the core at its slid
// runtime address back to the segment's file offset, recovering the image's
// on-disk layout. It returns how many bytes were written.
func writeImage(img *corefile.Image, path string) (uint64, error) {
	of, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer of.Close()

	var total uint64
	buf := make([]byte, extractChunkSize)
	for _, seg := range img.Macho().Segments() {
		if seg.Filesz == 0 {
			continue
		}
		addr := img.Translate(seg.Addr)
		for done := uint64(0); done < seg.Filesz; {
			n := uint64(len(buf))
			if left := seg.Filesz - done; left < n {
				n = left
			}
			if err := img.ReadAtAddr(buf[:n], addr+done); err != nil {
				return total, errors.Wrapf(err, "failed to read segment %s", seg.Name)
			}
			if _, err := of.WriteAt(buf[:n], int64(seg.Offset+done)); err != nil {
				return total, errors.Wrapf(err, "failed to write segment %s", seg.Name)
			}
			done += n
			total += n
		}
	}

	return total, nil
}
