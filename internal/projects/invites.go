package projects

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidMemberRole   = errors.New("invalid member role")
	ErrInviteNotFound      = errors.New("invitation not found")
	ErrInviteExpired       = errors.New("invitation expired")
	ErrInviteNotPending    = errors.New("invitation is no longer pending")
	ErrInviteEmailMismatch = errors.New("invitation email does not match user")
	ErrAlreadyMember       = errors.New("user is already a member of this project")
	ErrAdminCannotJoin     = errors.New("project admin cannot accept an invitation to their own project")
)

// InviteStatus represents an invitation's lifecycle state.
// pending is the only non-terminal state.
type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusExpired   InviteStatus = "expired"
	InviteStatusCancelled InviteStatus = "cancelled"
)

// Invitation is a single-use, time-limited offer to join a project with a
// fixed role.
type Invitation struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	ProjectID   uuid.UUID    `db:"project_id" json:"project_id"`
	ProjectName string       `db:"project_name" json:"project_name"`
	InvitedBy   uuid.UUID    `db:"invited_by" json:"invited_by"`
	Email       *string      `db:"email" json:"email,omitempty"`
	MemberRole  MemberRole   `db:"member_role" json:"member_role"`
	Status      InviteStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expires_at"`
	AcceptedBy  *uuid.UUID   `db:"accepted_by" json:"accepted_by,omitempty"`
	AcceptedAt  *time.Time   `db:"accepted_at" json:"accepted_at,omitempty"`
}

// IsExpired reports whether the invitation can no longer be accepted due to
// time. Expiry is evaluated lazily at read time; a pending row past its
// expires_at is expired even before the housekeeping sweep flips its status.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.Status == InviteStatusExpired || !now.Before(i.ExpiresAt)
}

// IsValid reports whether the invitation can still be accepted.
func (i *Invitation) IsValid(now time.Time) bool {
	return i.Status == InviteStatusPending && now.Before(i.ExpiresAt)
}

// EffectiveStatus is the status a reader should display, folding lazy expiry
// into the stored status.
func (i *Invitation) EffectiveStatus(now time.Time) InviteStatus {
	if i.Status == InviteStatusPending && !now.Before(i.ExpiresAt) {
		return InviteStatusExpired
	}
	return i.Status
}
