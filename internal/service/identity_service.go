package service

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"muni-chatbot-be/internal/dto"
	"muni-chatbot-be/internal/entity"
	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/internal/repository/contract"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidName  = errors.New("el nombre debe tener al menos 3 letras")
	ErrInvalidEmail = errors.New("el correo no es válido")
)

// Names accept letters (including accents) and spaces only.
var namePattern = regexp.MustCompile(`^[a-zA-ZáéíóúñüÁÉÍÓÚÑÜ\s]{3,}$`)
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type IIdentityService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error)
	Profile(ctx context.Context, visitorId string) (*dto.ProfileResponse, error)
}

type identityService struct {
	repo contract.IdentityRepository
	log  logger.ILogger
}

func NewIdentityService(repo contract.IdentityRepository, log logger.ILogger) IIdentityService {
	return &identityService{repo: repo, log: log}
}

// Register validates the form, persists the identity best-effort and
// issues a visitor token. Storage failures degrade to an unpersisted
// visitor rather than blocking the chat.
func (s *identityService) Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error) {
	name := strings.TrimSpace(req.Nombre)
	email := strings.ToLower(strings.TrimSpace(req.Correo))

	if !namePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	visitorId := uuid.New()

	if s.repo != nil {
		if existing, err := s.repo.FindByEmail(ctx, email); err == nil && existing != nil {
			existing.FullName = name
			if err := s.repo.Update(ctx, existing); err != nil {
				s.log.Warn("Identity", "Failed to update identity", map[string]interface{}{"error": err.Error()})
			}
			visitorId = existing.Id
		} else {
			identity := &entity.UserIdentity{
				Id:       visitorId,
				FullName: name,
				Email:    email,
			}
			if err := s.repo.Create(ctx, identity); err != nil {
				s.log.Warn("Identity", "Failed to persist identity, continuing unpersisted", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	token, err := s.issueToken(visitorId)
	if err != nil {
		return nil, err
	}

	return &dto.RegisterResponse{VisitorId: visitorId, Token: token}, nil
}

// Profile returns the stored identity so the widget can prefill its
// registration form and offer to resume the last agent session.
func (s *identityService) Profile(ctx context.Context, visitorId string) (*dto.ProfileResponse, error) {
	id, err := uuid.Parse(visitorId)
	if err != nil {
		return nil, errors.New("invalid visitor id")
	}
	if s.repo == nil {
		return nil, nil
	}
	rec, err := s.repo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	res := &dto.ProfileResponse{Nombre: rec.FullName, Correo: rec.Email}
	if rec.LastSessionId != nil {
		res.UltimoSessionId = *rec.LastSessionId
	}
	return res, nil
}

func (s *identityService) issueToken(visitorId uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"visitor_id": visitorId.String(),
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("JWT_SECRET")))
}
