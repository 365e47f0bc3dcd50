//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxGroupNameLen = 255

// Group is a node in a rooted forest. A group aggregates direct scopes and
// inherits every ancestor's scopes; a group without a parent is its own root.
type Group struct {
	ID        string    `json:"id"                  db:"id"`
	Name      string    `json:"name"                db:"name"`
	ParentID  *string   `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt time.Time `json:"created_at"          db:"created_at"`
	UpdatedAt time.Time `json:"updated_at"          db:"updated_at"`
	IsDeleted bool      `json:"-"                   db:"is_deleted"`
}

// ValidateGroupName checks the group naming rules shared by create and rename.
func ValidateGroupName(name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(n) > maxGroupNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	return nil
}

// CreateGroupRequest carries parameters for creating a group.
type CreateGroupRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

// Validate checks the request fields.
func (r CreateGroupRequest) Validate() error {
	return ValidateGroupName(r.Name)
}
