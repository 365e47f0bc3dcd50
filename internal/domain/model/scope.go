//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Scope names are dotted lowercase-with-underscore segments, e.g.
// "auth.user.read". Identity is immutable once a session references a scope.
var scopeNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Scope is a capability string an authorization decision checks for.
type Scope struct {
	ID        string    `json:"id"                db:"id"`
	Name      string    `json:"name"              db:"name"`
	CreatorID *string   `json:"creator_id"        db:"creator_id"`
	Comment   string    `json:"comment,omitempty" db:"comment"`
	CreatedAt time.Time `json:"created_at"        db:"created_at"`
	IsDeleted bool      `json:"-"                 db:"is_deleted"`
}

// ValidateScopeName checks the dotted lowercase naming convention.
func ValidateScopeName(name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return errors.New("name is required and cannot be empty")
	}
	if !scopeNameRe.MatchString(n) {
		return errors.New("name must be dotted lowercase segments, e.g. auth.user.read")
	}
	return nil
}

// ScopeSet is a set of scope names with union and subset helpers, used by the
// scope graph and by session authorization checks.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from scope names.
func NewScopeSet(names ...string) ScopeSet {
	s := make(ScopeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts a name into the set.
func (s ScopeSet) Add(name string) { s[name] = struct{}{} }

// Contains reports whether name is in the set.
func (s ScopeSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Union merges other into a new set.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s)+len(other))
	for n := range s {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// SubsetOf reports whether every name in s is present in other.
func (s ScopeSet) SubsetOf(other ScopeSet) bool {
	for n := range s {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// Names returns the member names in unspecified order.
func (s ScopeSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}
