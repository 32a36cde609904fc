package db

import (
	"encoding/gob"
	"os"
	"strings"

	"github.com/blacktop/corefile/internal/model"
)

// Memory is a database that stores data in memory.
type Memory struct {
	Cores map[string]*model.Core
	Path  string
}

// NewInMemory creates a new in-memory database. If path is non-empty the
// contents are loaded from it on Connect and persisted back on Close.
func NewInMemory(path string) (Database, error) {
	return &Memory{
		Cores: make(map[string]*model.Core),
		Path:  path,
	}, nil
}

// Connect connects to the database.
func (m *Memory) Connect() error {
	if m.Path == "" {
		return nil
	}
	f, err := os.Open(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&m.Cores)
}

// Create creates a new entry in the database.
func (m *Memory) Create(value any) error {
	if core, ok := value.(*model.Core); ok {
		m.Cores[core.Path] = core
	}
	return nil
}

// GetCoreByPath returns the core for the given path.
// It returns ErrNotFound if the path has not been cataloged.
func (m *Memory) GetCoreByPath(path string) (*model.Core, error) {
	core, exists := m.Cores[path]
	if !exists {
		return nil, model.ErrNotFound
	}
	return core, nil
}

// GetImage returns the image with the given UUID.
// It returns ErrNotFound if the UUID does not exist.
func (m *Memory) GetImage(uuid string) (*model.Image, error) {
	for _, core := range m.Cores {
		for idx, image := range core.Images {
			if strings.EqualFold(image.UUID, uuid) {
				return &core.Images[idx], nil
			}
		}
	}
	return nil, model.ErrNotFound
}

// GetImageByAddress returns the image covering the given address in the
// given core. It returns ErrNotFound if no image covers it.
func (m *Memory) GetImageByAddress(corePath string, address uint64) (*model.Image, error) {
	core, exists := m.Cores[corePath]
	if !exists {
		return nil, model.ErrNotFound
	}
	for idx, image := range core.Images {
		if image.LoadAddress <= address && address < image.LoadAddress+image.Size {
			return &core.Images[idx], nil
		}
	}
	return nil, model.ErrNotFound
}

// GetCoresWithImage returns the cores that loaded an image whose path
// contains name, with only the matching images attached.
// It returns ErrNotFound if no catalogued core loaded one.
func (m *Memory) GetCoresWithImage(name string) ([]*model.Core, error) {
	var cores []*model.Core
	for _, core := range m.Cores {
		var matches []model.Image
		for _, image := range core.Images {
			if strings.Contains(image.Path, name) {
				matches = append(matches, image)
			}
		}
		if len(matches) > 0 {
			hit := *core
			hit.Images = matches
			cores = append(cores, &hit)
		}
	}
	if len(cores) == 0 {
		return nil, model.ErrNotFound
	}
	return cores, nil
}

// Save sets the value for the given key.
// It overwrites any previous value for that key.
func (m *Memory) Save(value any) error {
	return m.Create(value)
}

// Delete removes the given core.
func (m *Memory) Delete(path string) error {
	delete(m.Cores, path)
	return nil
}

// Close closes the database.
func (m *Memory) Close() error {
	if m.Path == "" {
		return nil
	}
	f, err := os.Create(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(m.Cores)
}
