// Package db provides a database interface and implementations.
package db

import "github.com/blacktop/corefile/internal/model"

// Database is the interface that wraps the basic database operations.
type Database interface {
	// Connect connects to the database.
	Connect() error

	// Create creates a new entry in the database.
	Create(value any) error

	// GetCoreByPath returns the core for the given path.
	// It returns ErrNotFound if the path has not been cataloged.
	GetCoreByPath(path string) (*model.Core, error)

	// GetImage returns the image with the given UUID.
	// It returns ErrNotFound if the UUID does not exist.
	GetImage(uuid string) (*model.Image, error)

	// GetImageByAddress returns the image covering the given address in the
	// given core. It returns ErrNotFound if no image covers it.
	GetImageByAddress(corePath string, address uint64) (*model.Image, error)

	// GetCoresWithImage returns the cores that loaded an image whose path
	// contains name, with only the matching images attached.
	// It returns ErrNotFound if no catalogued core loaded one.
	GetCoresWithImage(name string) ([]*model.Core, error)

	// Save sets the value for the given key.
	// It overwrites any previous value for that key.
	Save(value any) error

	// Delete removes the given core.
	Delete(path string) error

	// Close closes the database.
	Close() error
}
