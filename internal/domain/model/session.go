//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import "time"

// Session is the server-side record for an authenticated user. Token is an
// opaque fixed-length random string; Scopes is a snapshot of the granted
// scope names unless Unbounded is set, in which case the effective set is
// recomputed live on every authorization check.
type Session struct {
	ID           string    `json:"id"              db:"id"`
	UserID       string    `json:"user_id"         db:"user_id"`
	Token        string    `json:"token"           db:"token"`
	Label        string    `json:"label,omitempty" db:"label"`
	Unbounded    bool      `json:"unbounded"       db:"unbounded"`
	CreatedAt    time.Time `json:"created_at"      db:"created_at"`
	Expires      time.Time `json:"expires"         db:"expires"`
	LastActivity time.Time `json:"last_activity"   db:"last_activity"`

	// Scopes is loaded from the session_scopes join; empty for unbounded
	// sessions.
	Scopes []string `json:"scopes" db:"-"`
}

// Expired reports whether the session is no longer valid at the given instant.
// Revocation is expressed by setting Expires to the revocation time, so a
// revoked session is simply an expired one.
func (s Session) Expired(now time.Time) bool {
	return !s.Expires.After(now)
}

// HasScope reports whether the bound snapshot contains the named scope. It is
// meaningless for unbounded sessions, whose scopes live in the group graph.
func (s Session) HasScope(name string) bool {
	for _, sc := range s.Scopes {
		if sc == name {
			return true
		}
	}
	return false
}
