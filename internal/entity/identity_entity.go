package entity

import (
	"time"

	"github.com/google/uuid"
)

// UserIdentity is the durable record of a registered chat visitor. The
// agent session id is kept so a later escalation can resume the same
// server-side session.
type UserIdentity struct {
	Id            uuid.UUID
	FullName      string
	Email         string
	LastSessionId *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UserIdentity) TableName() string {
	return "user_identities"
}
