package models

import (
	"strings"
	"time"
)

// Role is a per-memorial role binding.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
	RoleViewer      Role = "viewer"
)

// ParseRole normalises role names coming from requests.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleContributor, RoleViewer:
		return r, true
	}
	return "", false
}

// Capability is an action a collaborator may perform on a memorial.
type Capability string

const (
	CapInvite         Capability = "invite"
	CapSetRole        Capability = "set_role"
	CapRemove         Capability = "remove"
	CapSubmitPhoto    Capability = "submit_photo"
	CapViewGrid       Capability = "view_grid"
	CapManageMemorial Capability = "manage_memorial"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:       {CapInvite, CapSetRole, CapRemove, CapSubmitPhoto, CapViewGrid, CapManageMemorial},
	RoleContributor: {CapSubmitPhoto, CapViewGrid},
	RoleViewer:      {CapViewGrid},
}

// Grants reports whether the role includes the capability.
func (r Role) Grants(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// Invitation status values.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
)

type Collaborator struct {
	ID                 string     `json:"id"`
	MemorialID         string     `json:"memorial_id"`
	Email              string     `json:"email"`
	UserID             *string    `json:"user_id,omitempty"`
	Role               Role       `json:"role"`
	InvitationAccepted bool       `json:"invitation_accepted"`
	InvitationStatus   string     `json:"invitation_status"`
	TokenHash          string     `json:"-"`
	TokenExpiresAt     *time.Time `json:"token_expires_at,omitempty"`
	TokenUsedAt        *time.Time `json:"token_used_at,omitempty"`
	InvitedBy          string     `json:"invited_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsAcceptedAdmin reports whether this binding counts toward the admin minimum.
func (c Collaborator) IsAcceptedAdmin() bool {
	return c.InvitationAccepted && c.Role == RoleAdmin
}

// Unconsumed reports whether the invitation token can still be accepted at now.
func (c Collaborator) Unconsumed(now time.Time) bool {
	return !c.InvitationAccepted && c.InvitationStatus == InvitationPending &&
		c.TokenExpiresAt != nil && now.Before(*c.TokenExpiresAt)
}

// PendingInvitation is returned once, at invite time; Token is never stored.
type PendingInvitation struct {
	Collaborator Collaborator `json:"collaborator"`
	Token        string       `json:"token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

type InvitationRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

type AcceptInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}
