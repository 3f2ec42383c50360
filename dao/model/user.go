package model

import (
	"gorm.io/gorm"
)

// User is a console account: operators, project managers, and provisioned
// registrants once their account exists. Distinct from Registration, which
// tracks the provisioning workflow itself.
type User struct {
	gorm.Model
	Name     string  `gorm:"uniqueIndex;type:varchar(64);not null;comment:login name"`
	Email    *string `gorm:"type:varchar(128);comment:contact email"`
	Password *string `gorm:"type:varchar(128);comment:bcrypt hash"`
	Role     Role    `gorm:"type:varchar(32);not null;comment:platform role (admin, user, guest)"`
	Status   Status  `gorm:"type:varchar(32);not null;comment:user status (active, inactive)"`

	UserProjects []UserProject
}

// UserProject records a console user's role inside a project; Role admin
// marks the project managers a pending subscription is routed to.
type UserProject struct {
	gorm.Model
	UserID    uint `gorm:"uniqueIndex:idx_user_project;not null"`
	User      User `gorm:"foreignKey:UserID"`
	ProjectID uint `gorm:"uniqueIndex:idx_user_project;not null"`

	Role Role `gorm:"type:varchar(32);not null;comment:role in the project (admin, user)"`
}
