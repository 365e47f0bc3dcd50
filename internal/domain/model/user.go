// Package model defines the core data types shared across the identity services.
package model

import "time"

// User is the identity anchor. It carries no intrinsic attributes beyond its
// identifier; everything a provider knows about a user lives in
// CredentialParam rows.
type User struct {
	ID        string    `json:"id"         db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IsDeleted bool      `json:"-"          db:"is_deleted"`
}

// GroupMembership is a many-to-many edge between a user and a group.
type GroupMembership struct {
	ID        string    `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	GroupID   string    `json:"group_id"   db:"group_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	IsDeleted bool      `json:"-"          db:"is_deleted"`
}
