package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Registration is one human destined for an account in the backend identity
// service. BackendUserID is set exactly once, by the provisioning step of the
// registration workflow, and never reset.
type Registration struct {
	gorm.Model
	Username      *string    `gorm:"uniqueIndex;type:varchar(64);comment:assigned local username"`
	FullName      string     `gorm:"type:varchar(128);not null;comment:full name"`
	Organization  string     `gorm:"type:varchar(128);comment:home organization"`
	Phone         string     `gorm:"type:varchar(32);comment:contact phone"`
	Domain        string     `gorm:"type:varchar(64);comment:backend domain"`
	Region        string     `gorm:"type:varchar(64);comment:backend region"`
	BackendUserID *string    `gorm:"type:varchar(64);comment:user id in the backend, set on provisioning"`
	ExpiresAt     *time.Time `gorm:"comment:account expiration"`

	Requests        []RegistrationRequest
	Mappings        []IdentityMapping
	ProjectRequests []ProjectRequest
	Expirations     []Expiration
}

// RequestContent is the structured payload carried by a RegistrationRequest.
type RequestContent struct {
	Comment           string   `json:"comment"`
	RequestedProjects []string `json:"requestedProjects"`
}

// RegistrationRequest is one pending claim toward a Registration: one external
// identity, or one local-credential submission. All requests of a Registration
// are deleted together once provisioning completes.
type RegistrationRequest struct {
	gorm.Model
	RegistrationID uint         `gorm:"index;not null"`
	Registration   Registration `gorm:"foreignKey:RegistrationID"`

	ExternalID *string                            `gorm:"type:varchar(190);comment:federated identity (localname@issuer)"`
	Password   *string                            `gorm:"type:varchar(128);comment:initial backend password, local-credential flow only"`
	Email      string                             `gorm:"type:varchar(128);not null;comment:contact email"`
	Status     RequestStatus                      `gorm:"type:varchar(32);not null;default:Pending"`
	Content    datatypes.JSONType[RequestContent] `gorm:"comment:submission payload"`
}

// IdentityMapping binds a federated external identity string to exactly one
// Registration. The external identity is globally unique; mappings are never
// mutated and only removed together with the owning Registration.
type IdentityMapping struct {
	gorm.Model
	ExternalID     string       `gorm:"uniqueIndex;type:varchar(190);not null;comment:localname@issuer"`
	RegistrationID uint         `gorm:"index;not null"`
	Registration   Registration `gorm:"foreignKey:RegistrationID"`
}
