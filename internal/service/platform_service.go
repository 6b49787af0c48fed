package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
)

const generatedSecretBytes = 32

// PlatformService carries the administrative writes. Each write goes through
// the repo and then invalidates the registry entry.
type PlatformService struct {
	repo     PlatformRepo
	registry *PlatformRegistry
}

type PlatformCreateRequest struct {
	ID         string `json:"id" binding:"required"`
	Name       string `json:"name"`
	Secret     string `json:"secret"` // generated when empty
	Active     *bool  `json:"active"`
	Public     bool   `json:"public"`
	RateBudget int    `json:"rateBudget"`
	WebhookURL string `json:"webhookUrl"`
}

type PlatformUpdateRequest struct {
	Name       *string `json:"name"`
	Active     *bool   `json:"active"`
	Public     *bool   `json:"public"`
	RateBudget *int    `json:"rateBudget"`
	WebhookURL *string `json:"webhookUrl"`
}

func NewPlatformService(repo PlatformRepo, registry *PlatformRegistry) *PlatformService {
	return &PlatformService{repo: repo, registry: registry}
}

func (s *PlatformService) List(ctx context.Context, limit, offset int) ([]*model.Platform, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *PlatformService) Get(ctx context.Context, id string) (*model.Platform, error) {
	return s.repo.GetByID(ctx, id)
}

// Create returns the platform and its plain secret; the secret is not
// retrievable afterwards.
func (s *PlatformService) Create(ctx context.Context, req PlatformCreateRequest) (*model.Platform, string, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, "", fmt.Errorf("%w: id is required", ErrValidation)
	}
	if err := validateWebhookURL(req.WebhookURL); err != nil {
		return nil, "", err
	}
	secret := req.Secret
	if secret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return nil, "", err
		}
		secret = generated
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	p := &model.Platform{
		ID:         id,
		Name:       req.Name,
		Secret:     secret,
		Active:     active,
		Public:     req.Public,
		RateBudget: req.RateBudget,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, "", err
	}
	if err := s.registry.Invalidate(ctx, id); err != nil {
		return nil, "", err
	}
	if p.RateBudget <= 0 {
		logger.Warn("platform created without a rate budget; all requests will be refused", "platform_id", id)
	}
	return p, secret, nil
}

func (s *PlatformService) Update(ctx context.Context, id string, req PlatformUpdateRequest) (*model.Platform, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if req.Public != nil {
		p.Public = *req.Public
	}
	if req.RateBudget != nil {
		p.RateBudget = *req.RateBudget
	}
	if req.WebhookURL != nil {
		if err := validateWebhookURL(*req.WebhookURL); err != nil {
			return nil, err
		}
		p.WebhookURL = *req.WebhookURL
	}
	return s.save(ctx, p)
}

// RotateSecret replaces the secret. Signatures made with the old secret fail
// from the moment this returns.
func (s *PlatformService) RotateSecret(ctx context.Context, id string) (*model.Platform, string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	p.Secret = secret
	saved, err := s.save(ctx, p)
	if err != nil {
		return nil, "", err
	}
	logger.Info("platform secret rotated", "platform_id", id)
	return saved, secret, nil
}

func (s *PlatformService) SetActive(ctx context.Context, id string, active bool) (*model.Platform, error) {
	return s.Update(ctx, id, PlatformUpdateRequest{Active: &active})
}

func (s *PlatformService) save(ctx context.Context, p *model.Platform) (*model.Platform, error) {
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	if err := s.registry.Invalidate(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhookUrl must be an absolute http(s) URL", ErrValidation)
	}
	return nil
}

// IsPlatformNotFound reports whether err means the platform id is unknown.
func IsPlatformNotFound(err error) bool {
	return errors.Is(err, ErrPlatformNotFound)
}
