package corefile

// DyldInfoSymbol is the substring that identifies dyld's global image
// bookkeeping symbol. Export name mangling varies across dyld versions so the
// symbol table is matched on substring, not equality.
const DyldInfoSymbol = "dyld_all_image_infos"

const (
	// maxPathLength bounds NUL terminated string reads out of process memory.
	maxPathLength = 4096
	// maxImageCount rejects implausible info array counts before allocating.
	maxImageCount = 1 << 20
)

// AllImageInfos is the header of dyld's image bookkeeping structure as read
// out of the crashed process. Pointer fields are widened to 64-bit regardless
// of the target's pointer size.
type AllImageInfos struct {
	Version        uint32 `json:"version"`
	InfoArrayCount uint32 `json:"info_array_count"`
	InfoArrayAddr  uint64 `json:"info_array_addr"`
}

// ImageInfo is one record of dyld's info array: where an image was loaded,
// where its path string lives and when it was last modified on disk.
type ImageInfo struct {
	LoadAddress uint64 `json:"load_address"`
	PathAddress uint64 `json:"path_address"`
	ModTime     uint64 `json:"mod_time"`
}

// ImageEntry pairs an image's resolved path with its load address.
type ImageEntry struct {
	Path        string `json:"path"`
	LoadAddress uint64 `json:"load_address"`
	ModTime     uint64 `json:"mod_time,omitempty"`
}

// LoadedImage is a fully recovered image: the entry dyld recorded for it plus
// the parsed Mach-O found at its load address.
type LoadedImage struct {
	ImageEntry
	Image *Image `json:"-"`
}

// wire layouts of the dyld_all_image_infos header by pointer width
type allImageInfos64 struct {
	Version        uint32
	InfoArrayCount uint32
	InfoArrayAddr  uint64
}

type allImageInfos32 struct {
	Version        uint32
	InfoArrayCount uint32
	InfoArrayAddr  uint32
}

// wire layouts of one dyld_image_info record by pointer width
type imageInfo64 struct {
	LoadAddress uint64
	PathAddress uint64
	ModTime     uint64
}

type imageInfo32 struct {
	LoadAddress uint32
	PathAddress uint32
	ModTime     uint32
}
