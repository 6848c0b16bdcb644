package entitlement

import (
	"time"

	"github.com/flexprice/plancore/internal/types"
)

// Contract is the payload the entitlement service stores per user
type Contract struct {
	UserID     string   `json:"user_id"`
	Username   string   `json:"username,omitempty"`
	Plan       string   `json:"plan"`
	AddonNames []string `json:"addon_names"`
}

// SyncTask is an outbox entry for an entitlement call that has not succeeded yet.
// At most one pending task exists per user; enqueueing supersedes older ones.
type SyncTask struct {
	ID            string                     `db:"id" json:"id"`
	UserID        string                     `db:"user_id" json:"user_id"`
	Operation     types.EntitlementOperation `db:"operation" json:"operation"`
	Status        types.SyncTaskStatus       `db:"status" json:"status"`
	Attempts      int                        `db:"attempts" json:"attempts"`
	LastError     string                     `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time                  `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                  `db:"updated_at" json:"updated_at"`
}
