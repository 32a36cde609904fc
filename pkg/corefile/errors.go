package corefile

import "github.com/pkg/errors"

// ErrNotACore is returned when the underlying file parses as a Mach-O but is
// not of type MH_CORE.
var ErrNotACore = errors.New("not a Mach-O core file")

// ErrDylinkerNotFound is returned when neither the caller supplied hint nor a
// page aligned scan of the core's segments locates a dynamic linker image.
var ErrDylinkerNotFound = errors.New("core does NOT contain a dynamic linker image")

// ErrSymbolNotFound is returned when the dylinker's symbol table has no entry
// containing the all image infos symbol.
var ErrSymbolNotFound = errors.New("dylinker does NOT contain an all image infos symbol")

// ErrAmbiguousSymbol is returned when the dylinker's symbol table has entries
// containing the all image infos symbol that disagree on its address.
var ErrAmbiguousSymbol = errors.New("dylinker contains conflicting all image infos symbols")
