package implementation

import (
	"context"
	"errors"
	"time"

	"muni-chatbot-be/internal/entity"
	"muni-chatbot-be/internal/model"
	"muni-chatbot-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IdentityRepositoryImpl struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) contract.IdentityRepository {
	return &IdentityRepositoryImpl{db: db}
}

func toIdentityModel(e *entity.UserIdentity) *model.UserIdentity {
	return &model.UserIdentity{
		Id:            e.Id,
		FullName:      e.FullName,
		Email:         e.Email,
		LastSessionId: e.LastSessionId,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toIdentityEntity(m *model.UserIdentity) *entity.UserIdentity {
	return &entity.UserIdentity{
		Id:            m.Id,
		FullName:      m.FullName,
		Email:         m.Email,
		LastSessionId: m.LastSessionId,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (r *IdentityRepositoryImpl) Create(ctx context.Context, identity *entity.UserIdentity) error {
	m := toIdentityModel(identity)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*identity = *toIdentityEntity(m)
	return nil
}

func (r *IdentityRepositoryImpl) Update(ctx context.Context, identity *entity.UserIdentity) error {
	m := toIdentityModel(identity)
	m.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*identity = *toIdentityEntity(m)
	return nil
}

func (r *IdentityRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.UserIdentity, error) {
	var m model.UserIdentity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toIdentityEntity(&m), nil
}

func (r *IdentityRepositoryImpl) FindByEmail(ctx context.Context, email string) (*entity.UserIdentity, error) {
	var m model.UserIdentity
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toIdentityEntity(&m), nil
}

func (r *IdentityRepositoryImpl) SaveLastSessionId(ctx context.Context, id uuid.UUID, sessionId string) error {
	return r.db.WithContext(ctx).
		Model(&model.UserIdentity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_session_id": sessionId,
			"updated_at":      time.Now(),
		}).Error
}
