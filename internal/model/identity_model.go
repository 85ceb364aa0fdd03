package model

import (
	"time"

	"github.com/google/uuid"
)

type UserIdentity struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FullName      string    `gorm:"not null"`
	Email         string    `gorm:"uniqueIndex;not null"`
	LastSessionId *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UserIdentity) TableName() string {
	return "user_identities"
}
