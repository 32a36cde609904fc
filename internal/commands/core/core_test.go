package core

// Command level fixtures. A synthetic 64-bit core maps a tiny executable, a
// slid dylib and the dylinker whose all image infos array names them both,
// so every accessor below runs over the real parsers.

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/blacktop/go-macho/types"
)

var le = binary.LittleEndian

const (
	testPage     = 0x1000
	testExecAddr = 0x100000000    // executable, loaded at its preferred address
	testFooPref  = 0x200000000    // libfoo's static link address
	testFooAddr  = 0x7fff90000000 // where the core maps libfoo
	testDyldPref = 0x10000000
	testDyldAddr = 0x7fff70000000
)

func machHeader64(filetype types.HeaderFileType, ncmds, sizeofcmds uint32) []byte {
	b := make([]byte, 32)
	le.PutUint32(b[0:], uint32(types.Magic64))
	le.PutUint32(b[4:], uint32(types.CPUAmd64))
	le.PutUint32(b[8:], uint32(types.CPUSubtypeX8664All))
	le.PutUint32(b[12:], uint32(filetype))
	le.PutUint32(b[16:], ncmds)
	le.PutUint32(b[20:], sizeofcmds)
	return b
}

func seg64(name string, addr, memsz, fileoff, filesz uint64) []byte {
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

// writeMachO lays a mach header followed by the raw load commands down at the
// start of blob.
func writeMachO(blob []byte, filetype types.HeaderFileType, cmds [][]byte) {
	var size uint32
	for _, c := range cmds {
		size += uint32(len(c))
	}
	copy(blob, machHeader64(filetype, uint32(len(cmds)), size))
	cur := 32
	for _, c := range cmds {
		copy(blob[cur:], c)
		cur += len(c)
	}
}

// buildTestImage assembles a one segment image whose body pages carry fill, so
// extraction output can be compared byte for byte against the input.
func buildTestImage(filetype types.HeaderFileType, pref uint64, pages int, fill byte, srcVersion uint64) []byte {
	blob := make([]byte, pages*testPage)
	for i := testPage; i < len(blob); i++ {
		blob[i] = fill
	}
	cmds := [][]byte{
		seg64("__TEXT", pref, uint64(len(blob)), 0, uint64(len(blob))),
		uuidCmd(fill),
	}
	if srcVersion != 0 {
		cmds = append(cmds, sourceVersionCmd(srcVersion))
	}
	writeMachO(blob, filetype, cmds)
	return blob
}

// imageRec is one record the synthetic dylinker reports.
type imageRec struct {
	loadAddr uint64
	path     string
	modTime  uint64
}

// buildTestDyld assembles an MH_DYLINKER image in three pages laid out
// identically in file and memory: __TEXT (header), __DATA (all image infos,
// record array, path strings), __LINKEDIT (symbol table).
func buildTestDyld(infos []imageRec) []byte {
	blob := make([]byte, 3*testPage)

	// single nlist_64 naming the image infos, string table right after
	strtab := append([]byte{0}, append([]byte("_dyld_all_image_infos"), 0)...)
	le.PutUint32(blob[0x2000:], 1) // strx
	blob[0x2004] = 0x0f            // N_SECT|N_EXT
	blob[0x2005] = 1
	le.PutUint64(blob[0x2008:], testDyldPref+testPage)
	copy(blob[0x2800:], strtab)

	writeMachO(blob, types.MH_DYLINKER, [][]byte{
		seg64("__TEXT", testDyldPref, testPage, 0, testPage),
		seg64("__DATA", testDyldPref+testPage, testPage, testPage, testPage),
		seg64("__LINKEDIT", testDyldPref+2*testPage, testPage, 2*testPage, testPage),
		idDylinkerCmd("/usr/lib/dyld"),
		uuidCmd(0xdd),
		symtabCmd(0x2000, 1, 0x2800, uint32(len(strtab))),
	})

	le.PutUint32(blob[0x1000:], 2) // version
	le.PutUint32(blob[0x1004:], uint32(len(infos)))
	le.PutUint64(blob[0x1008:], testDyldAddr+0x1100)

	rec := 0x1100
	cur := uint64(0x1800)
	for _, info := range infos {
		le.PutUint64(blob[rec:], info.loadAddr)
		le.PutUint64(blob[rec+8:], testDyldAddr+cur)
		le.PutUint64(blob[rec+16:], info.modTime)
		copy(blob[cur:], info.path)
		cur += uint64(len(info.path)) + 1
		rec += 24
	}
	return blob
}

type coreSeg struct {
	addr uint64
	data []byte
}

// buildTestCore wraps page multiple segments in an MH_CORE container: a
// header page followed by each segment's bytes in order.
func buildTestCore(segs ...coreSeg) []byte {
	var cmds [][]byte
	var body bytes.Buffer
	fileoff := uint64(testPage)
	for _, seg := range segs {
		cmds = append(cmds, seg64("", seg.addr, uint64(len(seg.data)), fileoff, uint64(len(seg.data))))
		body.Write(seg.data)
		fileoff += uint64(len(seg.data))
	}
	out := make([]byte, testPage)
	writeMachO(out, types.MH_CORE, cmds)
	return append(out, body.Bytes()...)
}

// testCoreFile returns an open core plus the original image bytes keyed by
// basename for extraction comparisons.
func testCoreFile(t *testing.T) (*corefile.File, map[string][]byte) {
	t.Helper()

	exec := buildTestImage(types.MH_EXECUTE, testExecAddr, 2, 0xee, 1<<40)
	foo := buildTestImage(types.MH_DYLIB, testFooPref, 1, 0xbb, 0)
	dyld := buildTestDyld([]imageRec{
		{testExecAddr, "/usr/bin/crasher", 1660000000},
		{testFooAddr, "/usr/lib/libfoo.dylib", 1660000001},
	})
	core := buildTestCore(
		coreSeg{addr: testExecAddr, data: exec},
		coreSeg{addr: testFooAddr, data: foo},
		coreSeg{addr: testDyldAddr, data: dyld},
	)

	f := corefile.NewFile(bytes.NewReader(core), corefile.Config{DylinkerHint: testDyldAddr})
	t.Cleanup(func() { f.Close() })
	return f, map[string][]byte{"crasher": exec, "libfoo.dylib": foo}
}

func TestGetInfo(t *testing.T) {
	f, _ := testCoreFile(t)

	info, err := GetInfo(f)
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.FileType != types.MH_CORE.String() {
		t.Errorf("FileType = %q, want %q", info.FileType, types.MH_CORE.String())
	}
	if len(info.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(info.Segments))
	}
	if info.Segments[0].Addr != testExecAddr || info.Segments[0].Filesz != 2*testPage {
		t.Errorf("Segments[0] = %+v", info.Segments[0])
	}
	if info.Dylinker == nil {
		t.Fatal("Dylinker is nil")
	}
	if info.Dylinker.Address != testDyldAddr {
		t.Errorf("Dylinker.Address = %#x, want %#x", info.Dylinker.Address, testDyldAddr)
	}
	if info.Dylinker.Path != "/usr/lib/dyld" {
		t.Errorf("Dylinker.Path = %q, want /usr/lib/dyld", info.Dylinker.Path)
	}
	if info.Dylinker.Slide != int64(testDyldAddr-testDyldPref) {
		t.Errorf("Dylinker.Slide = %#x, want %#x", info.Dylinker.Slide, testDyldAddr-testDyldPref)
	}
	if info.Dylinker.ImageInfosAddr != testDyldAddr+testPage {
		t.Errorf("Dylinker.ImageInfosAddr = %#x, want %#x", info.Dylinker.ImageInfosAddr, testDyldAddr+testPage)
	}
	if info.Dylinker.Version != 2 || info.Dylinker.ImageCount != 2 {
		t.Errorf("Dylinker version/count = %d/%d, want 2/2", info.Dylinker.Version, info.Dylinker.ImageCount)
	}
}

func TestGetImages(t *testing.T) {
	f, _ := testCoreFile(t)

	images, err := GetImages(f, false)
	if err != nil {
		t.Fatalf("GetImages() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(images))
	}

	crasher := images[0]
	if crasher.Index != 1 || crasher.Path != "/usr/bin/crasher" || crasher.LoadAddress != testExecAddr {
		t.Errorf("images[0] = %+v", crasher)
	}
	if crasher.Slide != 0 {
		t.Errorf("crasher Slide = %d, want 0", crasher.Slide)
	}
	if crasher.FileType != types.MH_EXECUTE.String() {
		t.Errorf("crasher FileType = %q", crasher.FileType)
	}
	if crasher.Version != "1.0.0.0.0" {
		t.Errorf("crasher Version = %q, want 1.0.0.0.0", crasher.Version)
	}
	if crasher.ModTime != 1660000000 {
		t.Errorf("crasher ModTime = %d, want 1660000000", crasher.ModTime)
	}

	foo := images[1]
	if foo.Path != "/usr/lib/libfoo.dylib" || foo.LoadAddress != testFooAddr {
		t.Errorf("images[1] = %+v", foo)
	}
	if foo.Slide != int64(testFooAddr-testFooPref) {
		t.Errorf("foo Slide = %#x, want %#x", foo.Slide, testFooAddr-testFooPref)
	}
	if foo.UUID == "" {
		t.Error("foo UUID is empty")
	}
	if foo.Error != "" {
		t.Errorf("foo Error = %q, want none", foo.Error)
	}
}

func TestGetImagesMissingOK(t *testing.T) {
	// dyld names one image the core never captured
	exec := buildTestImage(types.MH_EXECUTE, testExecAddr, 1, 0xee, 0)
	dyld := buildTestDyld([]imageRec{
		{testExecAddr, "/usr/bin/crasher", 0},
		{0x7ffb00000000, "/usr/lib/libgone.dylib", 0},
	})
	core := buildTestCore(
		coreSeg{addr: testExecAddr, data: exec},
		coreSeg{addr: testDyldAddr, data: dyld},
	)
	f := corefile.NewFile(bytes.NewReader(core), corefile.Config{DylinkerHint: testDyldAddr})

	if _, err := GetImages(f, false); err == nil {
		t.Fatal("GetImages() did not fail on an unmapped image")
	}

	images, err := GetImages(f, true)
	if err != nil {
		t.Fatalf("GetImages(missingOK) error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(images))
	}
	if images[0].Error != "" {
		t.Errorf("images[0].Error = %q, want none", images[0].Error)
	}
	if images[1].Error == "" {
		t.Error("images[1].Error is empty for the unmapped image")
	}
	if images[1].Path != "/usr/lib/libgone.dylib" || images[1].LoadAddress != 0x7ffb00000000 {
		t.Errorf("images[1] = %+v", images[1])
	}
}

func TestExtractImages(t *testing.T) {
	f, want := testCoreFile(t)
	output := t.TempDir()

	created, err := ExtractImages(f, output, nil)
	if err != nil {
		t.Fatalf("ExtractImages() error = %v", err)
	}

	wantPaths := []string{
		filepath.Join(output, "crasher"),
		filepath.Join(output, "libfoo.dylib"),
	}
	if !reflect.DeepEqual(created, wantPaths) {
		t.Fatalf("ExtractImages() = %v, want %v", created, wantPaths)
	}
	for _, fname := range created {
		got, err := os.ReadFile(fname)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want[filepath.Base(fname)]) {
			t.Errorf("%s does not match the image mapped into the core", filepath.Base(fname))
		}
	}
}

func TestExtractImagesFiltered(t *testing.T) {
	f, want := testCoreFile(t)
	output := t.TempDir()

	created, err := ExtractImages(f, output, func(path string) bool {
		return strings.Contains(path, "libfoo")
	})
	if err != nil {
		t.Fatalf("ExtractImages() error = %v", err)
	}
	if len(created) != 1 || filepath.Base(created[0]) != "libfoo.dylib" {
		t.Fatalf("ExtractImages() = %v, want just libfoo.dylib", created)
	}
	got, err := os.ReadFile(created[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want["libfoo.dylib"]) {
		t.Error("libfoo.dylib does not match the image mapped into the core")
	}
	if _, err := os.Stat(filepath.Join(output, "crasher")); !os.IsNotExist(err) {
		t.Errorf("crasher was extracted despite the filter: %v", err)
	}
}
