package models

// Identity is the authenticated caller, taken from the bearer token.
// PlatformOwner is a platform-wide claim that grants every capability on
// every memorial, independent of per-memorial roles.
type Identity struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	PlatformOwner bool   `json:"platform_owner"`
}
