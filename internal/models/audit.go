package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is a state-changing action recorded in the audit trail.
type AuditAction string

const (
	ActionGenerate AuditAction = "GENERATE"
	ActionPlay     AuditAction = "PLAY"
	ActionDownload AuditAction = "DOWNLOAD"
	ActionDelete   AuditAction = "DELETE"
	ActionExpire   AuditAction = "EXPIRE"
	ActionShare    AuditAction = "SHARE"
	ActionUnshare  AuditAction = "UNSHARE"
)

// AuditOutcome records whether the audited action succeeded.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "SUCCESS"
	OutcomeFailure AuditOutcome = "FAILURE"
)

// AuditEntry is an immutable record of one audio-related action. Entries are
// created once and never mutated; ordering is guaranteed per entity only.
type AuditEntry struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	ActorID      uuid.UUID    `json:"actor_id" db:"actor_id"`
	Action       AuditAction  `json:"action" db:"action"`
	AudioID      *uuid.UUID   `json:"audio_id,omitempty" db:"audio_id"`
	DocumentID   *uuid.UUID   `json:"document_id,omitempty" db:"document_id"`
	Outcome      AuditOutcome `json:"outcome" db:"outcome"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`
	IPAddress    string       `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string       `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
