package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerationStatus tracks the synthesis pipeline state of a page audio.
type GenerationStatus string

const (
	GenPending    GenerationStatus = "PENDING"
	GenGenerating GenerationStatus = "GENERATING"
	GenCompleted  GenerationStatus = "COMPLETED"
	GenFailed     GenerationStatus = "FAILED"
)

// LifetimeStatus tracks the storage/visibility state of a page audio,
// independent of whether generation succeeded.
type LifetimeStatus string

const (
	LifetimeActive  LifetimeStatus = "ACTIVE"
	LifetimeDeleted LifetimeStatus = "DELETED"
	LifetimeExpired LifetimeStatus = "EXPIRED"
)

var genTransitions = map[GenerationStatus][]GenerationStatus{
	GenPending:    {GenGenerating},
	GenGenerating: {GenCompleted, GenFailed},
	GenFailed:     {GenGenerating}, // retried attempt
	GenCompleted:  {},
}

var lifetimeTransitions = map[LifetimeStatus][]LifetimeStatus{
	LifetimeActive:  {LifetimeDeleted, LifetimeExpired},
	LifetimeDeleted: {},
	LifetimeExpired: {},
}

// ValidateGenTransition rejects generation-status transitions that are not
// part of the pipeline state machine.
func ValidateGenTransition(from, to GenerationStatus) error {
	for _, allowed := range genTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid generation status transition %s -> %s", from, to)
}

// ValidateLifetimeTransition rejects lifetime-status transitions out of a
// terminal state. Deleted and Expired records are kept forever for quota
// counting and audit history.
func ValidateLifetimeTransition(from, to LifetimeStatus) error {
	for _, allowed := range lifetimeTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid lifetime status transition %s -> %s", from, to)
}

// PageAudio is one synthesis attempt/result for a (page, voice) pair.
//
// Invariants enforced by the persistence layer:
//   - at most one ACTIVE record per (page, voice), via a partial unique index
//   - lifetime count per page never exceeds the configured quota, via a
//     count-and-insert under a page row lock
type PageAudio struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	PageID       uuid.UUID        `json:"page_id" db:"page_id"`
	Voice        string           `json:"voice" db:"voice"`
	GeneratedBy  uuid.UUID        `json:"generated_by" db:"generated_by"`
	StorageKey   string           `json:"-" db:"storage_key"`
	Status       GenerationStatus `json:"status" db:"status"`
	Lifetime     LifetimeStatus   `json:"lifetime_status" db:"lifetime_status"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	LastPlayedAt *time.Time       `json:"last_played_at,omitempty" db:"last_played_at"`
	DeletedAt    *time.Time       `json:"deleted_at,omitempty" db:"deleted_at"`
	WarnedAt     *time.Time       `json:"-" db:"warned_at"`
}

// ExpiryReference returns the timestamp expiry age is measured from:
// the last play when there is one, creation otherwise.
func (a *PageAudio) ExpiryReference() time.Time {
	if a.LastPlayedAt != nil {
		return *a.LastPlayedAt
	}
	return a.CreatedAt
}

// ExpiresAt returns the instant the audio becomes eligible for expiry.
func (a *PageAudio) ExpiresAt(retention time.Duration) time.Time {
	return a.ExpiryReference().Add(retention)
}

// IsExpired reports whether the audio has outlived the retention period.
func (a *PageAudio) IsExpired(now time.Time, retention time.Duration) bool {
	return !now.Before(a.ExpiresAt(retention))
}

// NeedsWarning reports whether the audio sits inside the pre-expiry warning
// window: retention-lead <= age < retention.
func (a *PageAudio) NeedsWarning(now time.Time, retention, lead time.Duration) bool {
	age := now.Sub(a.ExpiryReference())
	return age >= retention-lead && age < retention
}
