package contract

import (
	"context"

	"muni-chatbot-be/internal/entity"

	"github.com/google/uuid"
)

type IdentityRepository interface {
	Create(ctx context.Context, identity *entity.UserIdentity) error
	Update(ctx context.Context, identity *entity.UserIdentity) error
	FindById(ctx context.Context, id uuid.UUID) (*entity.UserIdentity, error)
	FindByEmail(ctx context.Context, email string) (*entity.UserIdentity, error)
	SaveLastSessionId(ctx context.Context, id uuid.UUID, sessionId string) error
}
