package model

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleTech   Role = "TECH"
	RoleClient Role = "CLIENT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTech, RoleClient:
		return true
	}
	return false
}

// User is an account. Clients usually log in with the store CNPJ as username.
type User struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username           string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"username"`
	PasswordHash       string    `gorm:"type:varchar(255);not null" json:"-"`
	Role               Role      `gorm:"type:varchar(16);index;not null" json:"role"`
	MustChangePassword bool      `gorm:"not null" json:"must_change_password"`
	Active             bool      `gorm:"not null" json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (u *User) IsActiveTech() bool {
	return u != nil && u.Role == RoleTech && u.Active
}
