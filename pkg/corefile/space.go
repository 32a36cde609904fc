package corefile

import (
	"fmt"
	"io"

	"github.com/blacktop/go-macho"
)

// AddressSpace is a read-only, byte-addressable view of memory queried by
// absolute virtual address. It follows io.ReaderAt conventions: a short read
// is always accompanied by a non-nil error explaining why.
type AddressSpace interface {
	ReadAt(p []byte, addr uint64) (int, error)
}

// fileSpace addresses the raw dump bytes directly; address N is file offset N.
// It backs the core container's own (file relative) view.
type fileSpace struct {
	r io.ReaderAt
}

func (s fileSpace) ReadAt(p []byte, addr uint64) (int, error) {
	return s.r.ReadAt(p, int64(addr))
}

// segmentSpace reconstructs the crashed process's virtual memory from the
// core's segment table: a virtual address is served from the file range its
// segment was dumped to. Bytes past a segment's file size (zero fill) read as
// zeros. Reads spanning contiguous segments are stitched together.
type segmentSpace struct {
	r    io.ReaderAt
	segs []*macho.Segment
}

func (s *segmentSpace) findSegment(addr uint64) *macho.Segment {
	for _, seg := range s.segs {
		if seg.Addr <= addr && addr < seg.Addr+seg.Memsz {
			return seg
		}
	}
	return nil
}

func (s *segmentSpace) ReadAt(p []byte, addr uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var total int
	for total < len(p) {
		seg := s.findSegment(addr)
		if seg == nil {
			if total > 0 {
				return total, io.EOF
			}
			return 0, fmt.Errorf("address %#x not mapped by any core segment", addr)
		}
		segOff := addr - seg.Addr
		want := uint64(len(p) - total)
		if left := seg.Memsz - segOff; left < want {
			want = left
		}
		if segOff >= seg.Filesz {
			// zero fill tail
			for i := uint64(0); i < want; i++ {
				p[total+int(i)] = 0
			}
		} else {
			fileBytes := want
			if left := seg.Filesz - segOff; left < fileBytes {
				fileBytes = left
			}
			n, err := s.r.ReadAt(p[total:total+int(fileBytes)], int64(seg.Offset+segOff))
			if err != nil {
				return total + n, err
			}
			for i := fileBytes; i < want; i++ {
				p[total+int(i)] = 0
			}
		}
		total += int(want)
		addr += want
	}
	return total, nil
}

// spaceReader adapts an AddressSpace to io.ReaderAt with offset zero anchored
// at base, which is how go-macho wants to see an image.
type spaceReader struct {
	space AddressSpace
	base  uint64
}

func (r spaceReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	return r.space.ReadAt(p, r.base+uint64(off))
}
