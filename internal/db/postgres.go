package db

import (
	"errors"
	"fmt"

	"github.com/blacktop/corefile/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres is a database that stores data in a Postgres database.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string

	db *gorm.DB
}

// NewPostgres creates a new Postgres database.
func NewPostgres(host, port, user, password, database string) (Database, error) {
	if host == "" || port == "" || user == "" || password == "" || database == "" {
		return nil, fmt.Errorf("'host', 'port', 'user', 'password and 'database' are required")
	}
	return &Postgres{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: database,
	}, nil
}

// Connect connects to the database.
func (p *Postgres) Connect() (err error) {
	p.db, err = gorm.Open(postgres.Open(fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Database, p.Password,
	)), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect postgres database: %w", err)
	}
	return p.db.AutoMigrate(
		&model.Core{},
		&model.Image{},
	)
}

// Create creates a new entry in the database.
func (p *Postgres) Create(value any) error {
	if result := p.db.Create(value); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetCoreByPath returns the core for the given path.
// It returns ErrNotFound if the path has not been cataloged.
func (p *Postgres) GetCoreByPath(path string) (*model.Core, error) {
	var core model.Core
	if err := p.db.Preload("Images").Where("path = ?", path).First(&core).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &core, nil
}

// GetImage returns the image with the given UUID.
// It returns ErrNotFound if the UUID does not exist.
func (p *Postgres) GetImage(uuid string) (*model.Image, error) {
	var image model.Image
	if err := p.db.Where("uuid = ?", uuid).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &image, nil
}

// GetImageByAddress returns the image covering the given address in the
// given core. It returns ErrNotFound if no image covers it.
func (p *Postgres) GetImageByAddress(corePath string, address uint64) (*model.Image, error) {
	var image model.Image
	if err := p.db.Joins("JOIN cores ON cores.id = images.core_id").
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
func (p *Postgres) GetCoresWithImage(name string) ([]*model.Core, error) {
	var cores []*model.Core
	if err := p.db.Preload("Images", "path LIKE ?", "%"+name+"%").
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
func (p *Postgres) Save(value any) error {
	if result := p.db.Save(value); result.Error != nil {
		return result.Error
	}
	return nil
}

// Delete removes the given core and its images.
func (p *Postgres) Delete(path string) error {
	core, err := p.GetCoreByPath(path)
	if err != nil {
		return err
	}
	return p.db.Select(clause.Associations).Delete(core).Error
}

// Close closes the database.
func (p *Postgres) Close() error {
	db, err := p.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
