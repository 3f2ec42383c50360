package model

import (
	"time"

	"gorm.io/gorm"
)

// Project is a tenant of the backend resource service. BackendProjectID stays
// nil until the backend tenant actually exists. At most one project may hold
// the Guest status at any time.
type Project struct {
	gorm.Model
	Name             string        `gorm:"uniqueIndex;type:varchar(64);not null;comment:project name"`
	Description      *string       `gorm:"type:varchar(256);comment:project description"`
	Status           ProjectStatus `gorm:"type:varchar(32);not null;default:Private"`
	BackendProjectID *string       `gorm:"type:varchar(64);comment:tenant id in the backend"`

	ProjectRequests []ProjectRequest
	Expirations     []Expiration
}

// ProjectRequest is one pending membership, renewal, or promotion claim for a
// (Registration, Project) pair. A pair has at most one active request at a
// time; completed requests are deleted, not archived.
type ProjectRequest struct {
	gorm.Model
	RegistrationID uint         `gorm:"index:idx_prjreq_pair;not null"`
	Registration   Registration `gorm:"foreignKey:RegistrationID"`
	ProjectID      uint         `gorm:"index:idx_prjreq_pair;not null"`
	Project        Project      `gorm:"foreignKey:ProjectID"`

	Status ProjectRequestStatus `gorm:"type:varchar(32);not null;default:Reg"`
	Notes  string               `gorm:"type:varchar(512);comment:free-text notes"`
}

// Expiration is the authoritative record that a Registration currently holds
// active, time-bounded membership in a Project. Its existence implies the
// backend role assignment exists.
type Expiration struct {
	gorm.Model
	RegistrationID uint         `gorm:"uniqueIndex:idx_expiration_pair;not null"`
	Registration   Registration `gorm:"foreignKey:RegistrationID"`
	ProjectID      uint         `gorm:"uniqueIndex:idx_expiration_pair;not null"`
	Project        Project      `gorm:"foreignKey:ProjectID"`

	ExpiresAt time.Time `gorm:"not null;comment:membership expiration"`
}
