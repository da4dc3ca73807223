package domain

import "time"

// Credential is the authentication identity of a user.
type Credential struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	TelegramID   *int64
	Roles        []Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the credential holds r.
func (c *Credential) HasRole(r Role) bool {
	for _, v := range c.Roles {
		if v == r {
			return true
		}
	}
	return false
}

// Availability is the result of a username/email availability check.
type Availability struct {
	UsernameAvailable bool `json:"username_available"`
	EmailAvailable    bool `json:"email_available"`
}

// Available reports whether both identifiers are free.
func (a Availability) Available() bool {
	return a.UsernameAvailable && a.EmailAvailable
}

// ProfileFields are the user-facing profile attributes collected at
// registration and forwarded to the profile service.
type ProfileFields struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	City      string `json:"city,omitempty"`
}
