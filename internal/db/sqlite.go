package db

import (
	"errors"
	"fmt"

	"github.com/blacktop/corefile/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Sqlite is a database that stores data in a sqlite database.
type Sqlite struct {
	URL string
	// Config
	BatchSize int

	db *gorm.DB
}

// NewSqlite creates a new Sqlite database.
func NewSqlite(path string, batchSize int) (Database, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	return &Sqlite{
		URL:       path,
		BatchSize: batchSize,
	}, nil
}

// Connect connects to the database.
func (s *Sqlite) Connect() (err error) {
	s.db, err = gorm.Open(sqlite.Open(s.URL), &gorm.Config{
		CreateBatchSize:        s.BatchSize,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect sqlite database: %w", err)
	}
	return s.db.AutoMigrate(
		&model.Core{},
		&model.Image{},
	)
}

// Create creates a new entry in the database.
func (s *Sqlite) Create(value any) error {
	if result := s.db.Create(value); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetCoreByPath returns the core for the given path.
// It returns ErrNotFound if the path has not been cataloged.
func (s *Sqlite) GetCoreByPath(path string) (*model.Core, error) {
	var core model.Core
	if err := s.db.Preload("Images").Where("path = ?", path).First(&core).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &core, nil
}

// GetImage returns the image with the given UUID.
// It returns ErrNotFound if the UUID does not exist.
func (s *Sqlite) GetImage(uuid string) (*model.Image, error) {
	var image model.Image
	if err := s.db.Where("uuid = ?", uuid).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &image, nil
}

// GetImageByAddress returns the image covering the given address in the
// given core. It returns ErrNotFound if no image covers it.
func (s *Sqlite) GetImageByAddress(corePath string, address uint64) (*model.Image, error) {
	var image model.Image
	if err := s.db.Joins("JOIN cores ON cores.id = images.core_id").
		Where("cores.path = ? AND images.load_address <= ? AND ? < images.load_address + images.size", corePath, address, address).
		First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &image, nil
}

// GetCoresWithImage returns the cores that loaded an image whose path
// contains name, with only the matching images attached.
// It returns ErrNotFound if no catalogued core loaded one.
func (s *Sqlite) GetCoresWithImage(name string) ([]*model.Core, error) {
	var cores []*model.Core
	if err := s.db.Preload("Images", "path LIKE ?", "%"+name+"%").
		Joins("JOIN images ON images.core_id = cores.id").
		Where("images.path LIKE ? AND images.deleted_at IS NULL", "%"+name+"%").
		Group("cores.id").
		Find(&cores).Error; err != nil {
		return nil, err
	}
	if len(cores) == 0 {
		return nil, model.ErrNotFound
	}
	return cores, nil
}

// Save sets the value for the given key.
// It overwrites any previous value for that key.
func (s *Sqlite) Save(value any) error {
	if result := s.db.Save(value); result.Error != nil {
		return result.Error
	}
	return nil
}

// Delete removes the given core and its images.
func (s *Sqlite) Delete(path string) error {
	core, err := s.GetCoreByPath(path)
	if err != nil {
		return err
	}
	return s.db.Select(clause.Associations).Delete(core).Error
}

// Close closes the database.
func (s *Sqlite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
