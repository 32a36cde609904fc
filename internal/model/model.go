// Package model contains the core dump models for the database.
package model

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("no core found")
)

// Core is the model for an analyzed core dump.
type Core struct {
	gorm.Model           // adds ID, created_at etc.
	Path         string  `gorm:"index" json:"path"`
	CPU          string  `json:"cpu,omitempty"`
	DylinkerAddr uint64  `json:"dylinker_addr,omitempty"`
	Images       []Image `json:"images,omitempty"`
}

// Image is the model for an image recovered from a core dump. ASLR gives the
// same dylib a different load address in every core, so image rows belong to
// a single core instead of being shared by UUID.
type Image struct {
	gorm.Model
	CoreID      uint   `json:"-"`
	UUID        string `gorm:"index" json:"uuid"`
	Path        string `json:"path,omitempty"`
	LoadAddress uint64 `json:"load_address,omitempty"`
	Size        uint64 `json:"size,omitempty"`
	ModTime     int64  `json:"mod_time,omitempty"`
}
