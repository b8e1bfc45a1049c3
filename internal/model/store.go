package model

import "time"

type Network struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CNPJ      string    `gorm:"column:cnpj;type:varchar(32);uniqueIndex;not null" json:"cnpj"`
	Active    bool      `gorm:"not null" json:"active"`
	NetworkID *string   `gorm:"type:varchar(36);index" json:"network_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientAccess grants a CLIENT visibility of one store.
type ClientAccess struct {
	UserID    string    `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	StoreID   string    `gorm:"type:varchar(36);primaryKey" json:"store_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (ClientAccess) TableName() string { return "client_access" }

// ClientNetworkAccess grants a CLIENT visibility of every store currently in a network.
type ClientNetworkAccess struct {
	UserID    string    `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	NetworkID string    `gorm:"type:varchar(36);primaryKey" json:"network_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (ClientNetworkAccess) TableName() string { return "client_network_access" }
