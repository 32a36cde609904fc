package corefile

// In memory Mach-O assembly helpers. Tests build tiny dylinker, executable
// and dylib images, wrap them in a core dump whose segments map each image at
// its load address, and run the real parsers over the result.

import (
	"bytes"
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

var le = binary.LittleEndian

const (
	testPage    = 0x1000
	dataOff     = 0x1000 // dylinker __DATA: all image infos header
	arrayDelta  = 0x100  // info array within __DATA
	pathsDelta  = 0x800  // path strings within __DATA
	linkeditOff = 0x2000 // dylinker __LINKEDIT: nlist entries
	strtabDelta = 0x800  // string table within __LINKEDIT
)

func machHeader(is64 bool, filetype types.HeaderFileType, ncmds, sizeofcmds uint32) []byte {
	if is64 {
		b := make([]byte, 32)
		le.PutUint32(b[0:], uint32(types.Magic64))
		le.PutUint32(b[4:], uint32(types.CPUAmd64))
		le.PutUint32(b[8:], uint32(types.CPUSubtypeX8664All))
		le.PutUint32(b[12:], uint32(filetype))
		le.PutUint32(b[16:], ncmds)
		le.PutUint32(b[20:], sizeofcmds)
		return b
	}
	b := make([]byte, 28)
	le.PutUint32(b[0:], uint32(types.Magic32))
	le.PutUint32(b[4:], uint32(types.CPUI386))
	le.PutUint32(b[8:], uint32(types.CPUSubtypeX8664All))
	le.PutUint32(b[12:], uint32(filetype))
	le.PutUint32(b[16:], ncmds)
	le.PutUint32(b[20:], sizeofcmds)
	return b
}

func seg64Cmd(name string, addr, memsz, fileoff, filesz uint64) []byte {
	b := make([]byte, 72)
	le.PutUint32(b[0:], uint32(types.LC_SEGMENT_64))
	le.PutUint32(b[4:], 72)
	copy(b[8:24], name)
	le.PutUint64(b[24:], addr)
	le.PutUint64(b[32:], memsz)
	le.PutUint64(b[40:], fileoff)
	le.PutUint64(b[48:], filesz)
	le.PutUint32(b[56:], 7) // maxprot
	le.PutUint32(b[60:], 5) // prot
	return b
}

func seg32Cmd(name string, addr, memsz, fileoff, filesz uint32) []byte {
	b := make([]byte, 56)
	le.PutUint32(b[0:], uint32(types.LC_SEGMENT))
	le.PutUint32(b[4:], 56)
	copy(b[8:24], name)
	le.PutUint32(b[24:], addr)
	le.PutUint32(b[28:], memsz)
	le.PutUint32(b[32:], fileoff)
	le.PutUint32(b[36:], filesz)
	le.PutUint32(b[40:], 7)
	le.PutUint32(b[44:], 5)
	return b
}

func symtabCmd(symoff, nsyms, stroff, strsize uint32) []byte {
	b := make([]byte, 24)
	le.PutUint32(b[0:], uint32(types.LC_SYMTAB))
	le.PutUint32(b[4:], 24)
	le.PutUint32(b[8:], symoff)
	le.PutUint32(b[12:], nsyms)
	le.PutUint32(b[16:], stroff)
	le.PutUint32(b[20:], strsize)
	return b
}

func idDylinkerCmd(path string) []byte {
	size := (12 + len(path) + 1 + 7) &^ 7
	b := make([]byte, size)
	le.PutUint32(b[0:], uint32(types.LC_ID_DYLINKER))
	le.PutUint32(b[4:], uint32(size))
	le.PutUint32(b[8:], 12)
	copy(b[12:], path)
	return b
}

func idDylibCmd(path string) []byte {
	size := (24 + len(path) + 1 + 7) &^ 7
	b := make([]byte, size)
	le.PutUint32(b[0:], uint32(types.LC_ID_DYLIB))
	le.PutUint32(b[4:], uint32(size))
	le.PutUint32(b[8:], 24)
	le.PutUint32(b[12:], 1)
	le.PutUint32(b[16:], 0x10000)
	le.PutUint32(b[20:], 0x10000)
	copy(b[24:], path)
	return b
}

func uuidCmd(fill byte) []byte {
	b := make([]byte, 24)
	le.PutUint32(b[0:], uint32(types.LC_UUID))
	le.PutUint32(b[4:], 24)
	for i := 8; i < 24; i++ {
		b[i] = fill
	}
	return b
}

func sourceVersionCmd(v uint64) []byte {
	b := make([]byte, 16)
	le.PutUint32(b[0:], uint32(types.LC_SOURCE_VERSION))
	le.PutUint32(b[4:], 16)
	le.PutUint64(b[8:], v)
	return b
}

// writeImage lays a mach header followed by the raw load commands down at the
// start of blob.
func writeImage(blob []byte, is64 bool, filetype types.HeaderFileType, cmds [][]byte) {
	var size uint32
	for _, c := range cmds {
		size += uint32(len(c))
	}
	hdr := machHeader(is64, filetype, uint32(len(cmds)), size)
	copy(blob, hdr)
	cur := len(hdr)
	for _, c := range cmds {
		copy(blob[cur:], c)
		cur += len(c)
	}
}

type symEntry struct {
	name  string
	value uint64
}

func buildSymtab(is64 bool, syms []symEntry) (symdat, strtab []byte) {
	var names bytes.Buffer
	names.WriteByte(0)
	var dat bytes.Buffer
	for _, s := range syms {
		strx := uint32(names.Len())
		names.WriteString(s.name)
		names.WriteByte(0)
		if is64 {
			b := make([]byte, 16)
			le.PutUint32(b[0:], strx)
			b[4] = 0x0f // N_SECT|N_EXT
			b[5] = 1
			le.PutUint64(b[8:], s.value)
			dat.Write(b)
		} else {
			b := make([]byte, 12)
			le.PutUint32(b[0:], strx)
			b[4] = 0x0f
			b[5] = 1
			le.PutUint32(b[8:], uint32(s.value))
			dat.Write(b)
		}
	}
	return dat.Bytes(), names.Bytes()
}

// infoSpec is one record the synthetic dylinker reports. When path is set the
// builder stores the string in the dylinker's __DATA and points the record at
// it; pathAddr overrides the pointer for malformed record tests.
type infoSpec struct {
	loadAddr uint64
	path     string
	pathAddr uint64
	modTime  uint64
}

// dylinkerSpec assembles an MH_DYLINKER image, three pages laid out
// identically in file and memory: __TEXT (header), __DATA (all image infos,
// info array, path strings), __LINKEDIT (symbol table).
type dylinkerSpec struct {
	is64     bool
	prefBase uint64 // static link address
	loadAddr uint64 // where the core maps it
	version  uint32 // all image infos version, 0 means 2
	infos    []infoSpec
	syms     []symEntry // overrides the default symbol table
	noSymtab bool
}

func (s dylinkerSpec) build() []byte {
	blob := make([]byte, 3*testPage)

	syms := s.syms
	if syms == nil {
		syms = []symEntry{
			{"_dyld_start", s.prefBase + 0x40},
			{"_dyld_all_image_infos", s.prefBase + dataOff},
			{"__dyld_private", s.prefBase + dataOff + 0x200},
		}
	}
	symdat, strtab := buildSymtab(s.is64, syms)
	copy(blob[linkeditOff:], symdat)
	copy(blob[linkeditOff+strtabDelta:], strtab)

	var cmds [][]byte
	if s.is64 {
		cmds = append(cmds,
			seg64Cmd("__TEXT", s.prefBase, testPage, 0, testPage),
			seg64Cmd("__DATA", s.prefBase+dataOff, testPage, dataOff, testPage),
			seg64Cmd("__LINKEDIT", s.prefBase+linkeditOff, testPage, linkeditOff, testPage),
		)
	} else {
		cmds = append(cmds,
			seg32Cmd("__TEXT", uint32(s.prefBase), testPage, 0, testPage),
			seg32Cmd("__DATA", uint32(s.prefBase+dataOff), testPage, dataOff, testPage),
			seg32Cmd("__LINKEDIT", uint32(s.prefBase+linkeditOff), testPage, linkeditOff, testPage),
		)
	}
	cmds = append(cmds, idDylinkerCmd("/usr/lib/dyld"), uuidCmd(0xdd))
	if !s.noSymtab {
		cmds = append(cmds, symtabCmd(linkeditOff, uint32(len(syms)), linkeditOff+strtabDelta, uint32(len(strtab))))
	}
	writeImage(blob, s.is64, types.MH_DYLINKER, cmds)

	version := s.version
	if version == 0 {
		version = 2
	}
	le.PutUint32(blob[dataOff:], version)
	le.PutUint32(blob[dataOff+4:], uint32(len(s.infos)))
	arrayAddr := s.loadAddr + dataOff + arrayDelta
	if s.is64 {
		le.PutUint64(blob[dataOff+8:], arrayAddr)
	} else {
		le.PutUint32(blob[dataOff+8:], uint32(arrayAddr))
	}

	rec := uint64(dataOff + arrayDelta)
	pathCur := uint64(dataOff + pathsDelta)
	for _, info := range s.infos {
		pathAddr := info.pathAddr
		if pathAddr == 0 && info.path != "" {
			pathAddr = s.loadAddr + pathCur
			copy(blob[pathCur:], info.path)
			pathCur += uint64(len(info.path)) + 1
		}
		if s.is64 {
			le.PutUint64(blob[rec:], info.loadAddr)
			le.PutUint64(blob[rec+8:], pathAddr)
			le.PutUint64(blob[rec+16:], info.modTime)
			rec += 24
		} else {
			le.PutUint32(blob[rec:], uint32(info.loadAddr))
			le.PutUint32(blob[rec+4:], uint32(pathAddr))
			le.PutUint32(blob[rec+8:], uint32(info.modTime))
			rec += 12
		}
	}
	return blob
}

// simpleImageSpec assembles a one segment executable or dylib.
type simpleImageSpec struct {
	is64       bool
	filetype   types.HeaderFileType
	prefBase   uint64
	pages      int
	fill       byte
	dylibID    string
	srcVersion uint64
}

func (s simpleImageSpec) build() []byte {
	pages := s.pages
	if pages < 1 {
		pages = 1
	}
	blob := make([]byte, pages*testPage)
	for i := testPage; i < len(blob); i++ {
		blob[i] = s.fill
	}
	size := uint64(len(blob))
	var cmds [][]byte
	if s.is64 {
		cmds = append(cmds, seg64Cmd("__TEXT", s.prefBase, size, 0, size))
	} else {
		cmds = append(cmds, seg32Cmd("__TEXT", uint32(s.prefBase), uint32(size), 0, uint32(size)))
	}
	cmds = append(cmds, uuidCmd(s.fill))
	if s.dylibID != "" {
		cmds = append(cmds, idDylibCmd(s.dylibID))
	}
	if s.srcVersion != 0 {
		cmds = append(cmds, sourceVersionCmd(s.srcVersion))
	}
	writeImage(blob, s.is64, s.filetype, cmds)
	return blob
}

// coreSeg is one segment of a synthetic core: the crashed process memory at
// addr held the given bytes. memsz beyond len(data) reads back as zero fill.
type coreSeg struct {
	addr  uint64
	data  []byte
	memsz uint64
}

func pageAlign(n uint64) uint64 {
	return (n + testPage - 1) &^ (testPage - 1)
}

// buildCore wraps the segments in an MH_CORE container: a header page
// followed by each segment's bytes, page aligned, in order.
func buildCore(is64 bool, segs ...coreSeg) []byte {
	var cmds [][]byte
	var body bytes.Buffer
	fileoff := uint64(testPage)
	for _, seg := range segs {
		memsz := seg.memsz
		if memsz == 0 {
			memsz = uint64(len(seg.data))
		}
		if is64 {
			cmds = append(cmds, seg64Cmd("", seg.addr, memsz, fileoff, uint64(len(seg.data))))
		} else {
			cmds = append(cmds, seg32Cmd("", uint32(seg.addr), uint32(memsz), uint32(fileoff), uint32(len(seg.data))))
		}
		body.Write(seg.data)
		body.Write(make([]byte, pageAlign(uint64(len(seg.data)))-uint64(len(seg.data))))
		fileoff += pageAlign(uint64(len(seg.data)))
	}
	out := make([]byte, testPage)
	writeImage(out, is64, types.MH_CORE, cmds)
	return append(out, body.Bytes()...)
}

// fillPattern returns n bytes of non Mach-O garbage.
func fillPattern(n int, b byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}
	return p
}
