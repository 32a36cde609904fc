package magic

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/go-macho/types"
)

func writeHeader(t *testing.T, magic, filetype uint32) string {
	t.Helper()
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[:4], magic)
	binary.LittleEndian.PutUint32(hdr[12:16], filetype)
	path := filepath.Join(t.TempDir(), "test.bin")
	if err := os.WriteFile(path, hdr[:], 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIsCore(t *testing.T) {
	tests := []struct {
		name     string
		magic    uint32
		filetype uint32
		want     bool
		errHas   string
	}{
		{"core", uint32(Magic64), uint32(types.MH_CORE), true, ""},
		{"core 32bit", uint32(Magic32), uint32(types.MH_CORE), true, ""},
		{"executable", uint32(Magic64), uint32(types.MH_EXECUTE), false, "not CORE"},
		{"fat", uint32(MagicFatLE), 0, false, "fat files"},
		{"not macho", 0xdeadbeef, 0, false, "not a macho"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsCore(writeHeader(t, tt.magic, tt.filetype))
			if got != tt.want {
				t.Errorf("IsCore() = %v, want %v", got, tt.want)
			}
			if !tt.want {
				if err == nil {
					t.Fatal("IsCore() expected an error")
				}
				if !strings.Contains(err.Error(), tt.errHas) {
					t.Errorf("IsCore() error = %q, want one containing %q", err, tt.errHas)
				}
			}
		})
	}
}

func TestIsMachO(t *testing.T) {
	if ok, err := IsMachO(writeHeader(t, uint32(Magic64), uint32(types.MH_EXECUTE))); !ok {
		t.Errorf("IsMachO() = false, want true: %v", err)
	}
	// fat files are still Mach-O; only IsCore rejects them
	if ok, err := IsMachO(writeHeader(t, uint32(MagicFatLE), 0)); !ok {
		t.Errorf("IsMachO() = false, want true: %v", err)
	}
	if ok, _ := IsMachO(writeHeader(t, 0xdeadbeef, 0)); ok {
		t.Error("IsMachO() = true, want false")
	}
}
