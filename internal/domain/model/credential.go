//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import (
	"errors"
	"strings"
	"time"
)

// CredentialParam is one fact an auth method knows about a user: a password
// hash, an external subject id, a username in an outer system. The triple
// (user, method, key) is unique among non-deleted rows, which makes the table
// the only durable representation a new auth method needs.
type CredentialParam struct {
	ID        string    `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Method    string    `json:"method"     db:"method"`
	Key       string    `json:"key"        db:"key"`
	Value     string    `json:"-"          db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IsDeleted bool      `json:"-"          db:"is_deleted"`
}

// Well-known credential param keys shared across methods.
const (
	ParamEmail         = "email"
	ParamPasswordHash  = "password_hash"
	ParamSubject       = "subject"
	ParamOuterUsername = "username"
	ParamResetToken    = "reset_token"
	ParamResetExpires  = "reset_expires"
)

// SetCredentialParam carries one upsert for a user's credential rows.
type SetCredentialParam struct {
	UserID string
	Method string
	Key    string
	Value  string
}

// Validate checks the structural fields of a credential upsert.
func (p SetCredentialParam) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(p.Method) == "" {
		return errors.New("method is required")
	}
	if strings.TrimSpace(p.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}
