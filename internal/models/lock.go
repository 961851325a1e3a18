package models

import "time"

// Lock is a leased named mutex row.
type Lock struct {
	Name      string    `gorm:"primaryKey;type:varchar(191)"`
	Owner     string    `gorm:"type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Lock) TableName() string {
	return "locks"
}
