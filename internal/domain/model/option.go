//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import "time"

// DynamicOption is a process-wide named configuration value mutated
// administratively and read at bootstrap (e.g. the default registration
// group id). Exactly one of the typed value slots is populated.
type DynamicOption struct {
	Name      string    `json:"name"       db:"name"`
	StrValue  *string   `json:"str_value"  db:"str_value"`
	IntValue  *int64    `json:"int_value"  db:"int_value"`
	BoolValue *bool     `json:"bool_value" db:"bool_value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known dynamic option names.
const (
	OptionDefaultGroupID = "auth.default_group_id"
	OptionAdminGroupID   = "auth.admin_group_id"
)
