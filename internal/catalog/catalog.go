// Package catalog persists the images recovered from core dumps so later
// lookups don't have to reparse the core.
package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/db"
	"github.com/blacktop/corefile/internal/model"
	"github.com/blacktop/corefile/pkg/corefile"
)

// Scan parses the core at corePath and saves it and its loaded images to the
// database, replacing any previous catalog entry for the same path. Cores are
// keyed by absolute path.
func Scan(corePath string, conf corefile.Config, db db.Database) (*model.Core, error) {
	abs, err := filepath.Abs(corePath)
	if err != nil {
		return nil, err
	}

	f, err := corefile.Open(corePath, conf)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := f.Macho()
	if err != nil {
		return nil, err
	}

	core := &model.Core{
		Path: abs,
		CPU:  m.CPU.String(),
	}

	d, err := f.Dylinker()
	if err != nil {
		return nil, fmt.Errorf("failed to find dynamic linker: %w", err)
	}
	core.DylinkerAddr = d.Image().Base()

	loaded, err := f.LoadedImages()
	if err != nil {
		return nil, fmt.Errorf("failed to recover loaded images: %w", err)
	}
	for _, li := range loaded {
		img := model.Image{
			Path:        li.Path,
			LoadAddress: li.LoadAddress,
			Size:        li.Image.Size(),
			ModTime:     int64(li.ModTime),
		}
		if m := li.Image.Macho(); m.UUID() != nil {
			img.UUID = m.UUID().String()
		}
		core.Images = append(core.Images, img)
	}

	if err := save(core, db); err != nil {
		return nil, err
	}

	return core, nil
}

// save writes the core to the database. A core scanned before is replaced
// wholesale so stale image rows never satisfy lookups.
func save(core *model.Core, db db.Database) error {
	if _, err := db.GetCoreByPath(core.Path); err == nil {
		log.Debugf("replacing catalog entry for %s", core.Path)
		if err := db.Delete(core.Path); err != nil {
			return fmt.Errorf("failed to replace core in database: %w", err)
		}
	}
	if err := db.Create(core); err != nil {
		return fmt.Errorf("failed to create core in database: %w", err)
	}
	return nil
}

// GetCore retrieves the catalogued core dump with the given path from the database.
func GetCore(path string, db db.Database) (*model.Core, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return db.GetCoreByPath(abs)
}

// GetImage retrieves the image with the given UUID from the database.
func GetImage(uuid string, db db.Database) (*model.Image, error) {
	return db.GetImage(uuid)
}

// GetImageForAddr retrieves the image covering the given address in the given
// core from the database.
func GetImageForAddr(path string, addr uint64, db db.Database) (*model.Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return db.GetImageByAddress(abs, addr)
}

// Search retrieves the catalogued cores that loaded an image whose path
// contains name.
func Search(name string, db db.Database) ([]*model.Core, error) {
	return db.GetCoresWithImage(name)
}

// Remove deletes the catalogued core dump with the given path from the database.
func Remove(path string, db db.Database) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return db.Delete(abs)
}
