package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevoice/pagevoice/internal/cache"
	"github.com/pagevoice/pagevoice/internal/models"
)

// cacheTTL bounds how stale a settings read may be. Thirty seconds is short
// enough that an admin toggle lands before the next sweep or burst of
// requests, and long enough to keep the settings row off the hot path.
const cacheTTL = 30 * time.Second

const cacheKey = "site_settings"

// Service reads the single site settings row. The row is mutated only
// through an administrative path elsewhere; from here it is read-only.
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Cache // optional
}

func NewService(db *pgxpool.Pool, c *cache.Cache) *Service {
	return &Service{db: db, cache: c}
}

type settingsRow struct {
	GenerationEnabled bool `json:"generation_enabled"`
	RetentionDays     int  `json:"retention_days"`
	WarningLeadDays   int  `json:"warning_lead_days"`
	MaxAudiosPerPage  int  `json:"max_audios_per_page"`
	AutoDeleteEnabled bool `json:"auto_delete_enabled"`
}

// Get returns the current settings, serving from cache within the staleness
// bound. A cache outage degrades to reading the database directly.
func (s *Service) Get(ctx context.Context) (*models.SiteSettings, error) {
	var row settingsRow
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &row); err == nil {
			return row.toModel(), nil
		}
	}

	err := s.db.QueryRow(ctx,
		`SELECT generation_enabled, retention_days, warning_lead_days, max_audios_per_page, auto_delete_enabled
		 FROM site_settings WHERE id = 1`,
	).Scan(&row.GenerationEnabled, &row.RetentionDays, &row.WarningLeadDays, &row.MaxAudiosPerPage, &row.AutoDeleteEnabled)
	if err != nil {
		return nil, fmt.Errorf("load site settings: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, row, cacheTTL)
	}
	return row.toModel(), nil
}

func (r settingsRow) toModel() *models.SiteSettings {
	return &models.SiteSettings{
		GenerationEnabled: r.GenerationEnabled,
		RetentionPeriod:   time.Duration(r.RetentionDays) * 24 * time.Hour,
		WarningLeadTime:   time.Duration(r.WarningLeadDays) * 24 * time.Hour,
		MaxAudiosPerPage:  r.MaxAudiosPerPage,
		AutoDeleteEnabled: r.AutoDeleteEnabled,
	}
}
