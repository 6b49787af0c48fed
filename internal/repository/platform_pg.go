package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"gorm.io/gorm"
)

type platformRow struct {
	ID         string `gorm:"primaryKey;type:text"`
	Name       string `gorm:"type:text"`
	Secret     string `gorm:"type:text;not null"`
	Active     bool   `gorm:"not null;default:true"`
	Public     bool   `gorm:"not null;default:false"`
	RateBudget int    `gorm:"not null;default:0"`
	WebhookURL string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (platformRow) TableName() string { return "platforms" }

func (r *platformRow) toDomain() *model.Platform {
	return &model.Platform{
		ID:         r.ID,
		Name:       r.Name,
		Secret:     r.Secret,
		Active:     r.Active,
		Public:     r.Public,
		RateBudget: r.RateBudget,
		WebhookURL: r.WebhookURL,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func platformRowFrom(p *model.Platform) *platformRow {
	return &platformRow{
		ID:         p.ID,
		Name:       p.Name,
		Secret:     p.Secret,
		Active:     p.Active,
		Public:     p.Public,
		RateBudget: p.RateBudget,
		WebhookURL: p.WebhookURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

type PostgresPlatformRepo struct {
	db *gorm.DB
}

func NewPostgresPlatformRepo(db *gorm.DB) *PostgresPlatformRepo {
	return &PostgresPlatformRepo{db: db}
}

func (r *PostgresPlatformRepo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&platformRow{})
}

func (r *PostgresPlatformRepo) GetByID(ctx context.Context, id string) (*model.Platform, error) {
	var row platformRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlatformNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *PostgresPlatformRepo) List(ctx context.Context, limit, offset int) ([]*model.Platform, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var rows []platformRow
	if err := r.db.WithContext(ctx).Order("created_at DESC, id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Platform, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *PostgresPlatformRepo) Create(ctx context.Context, p *model.Platform) error {
	err := r.db.WithContext(ctx).Create(platformRowFrom(p)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrPlatformExists
	}
	return err
}

// Update writes every mutable column, zero values included (a budget of 0 is
// meaningful).
func (r *PostgresPlatformRepo) Update(ctx context.Context, p *model.Platform) error {
	row := platformRowFrom(p)
	res := r.db.WithContext(ctx).Model(&platformRow{ID: p.ID}).
		Select("name", "secret", "active", "public", "rate_budget", "webhook_url", "updated_at").
		Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPlatformNotFound
	}
	return nil
}
