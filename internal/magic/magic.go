package magic

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/blacktop/go-macho/types"
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	MagicFatBE Magic = 0xcafebabe
	MagicFatLE Magic = 0xbebafeca
)

func IsMachO(filePath string) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err = f.Read(magic[:]); err != nil {
		return false, fmt.Errorf("failed to read magic: %w", err)
	}

	switch Magic(binary.LittleEndian.Uint32(magic[:])) {
	case Magic32, Magic64, MagicFatBE, MagicFatLE:
		return true, nil
	default:
		return false, fmt.Errorf("not a macho file")
	}
}

// IsCore checks that a file is a Mach-O core dump before handing it to the
// parser. Cores are always thin, so fat files are rejected outright.
func IsCore(filePath string) (bool, error) {
	if ok, err := IsMachO(filePath); !ok {
		return false, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var hdr [16]byte
	if _, err = f.Read(hdr[:]); err != nil {
		return false, fmt.Errorf("failed to read macho header: %w", err)
	}

	switch Magic(binary.LittleEndian.Uint32(hdr[:4])) {
	case MagicFatBE, MagicFatLE:
		return false, fmt.Errorf("fat files cannot be core files")
	}
	if ft := types.HeaderFileType(binary.LittleEndian.Uint32(hdr[12:16])); ft != types.MH_CORE {
		return false, fmt.Errorf("macho file type is %s, not CORE", ft)
	}
	return true, nil
}
