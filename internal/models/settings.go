package models

import "time"

// SiteSettings is the single logical configuration row read on every
// orchestration and sweep decision. A CHECK (id = 1) constraint in the
// schema enforces the singleton; this process never writes it.
type SiteSettings struct {
	GenerationEnabled bool          `json:"generation_enabled" db:"generation_enabled"`
	RetentionPeriod   time.Duration `json:"retention_period"`
	WarningLeadTime   time.Duration `json:"warning_lead_time"`
	MaxAudiosPerPage  int           `json:"max_audios_per_page" db:"max_audios_per_page"`
	AutoDeleteEnabled bool          `json:"auto_delete_enabled" db:"auto_delete_enabled"`
}
