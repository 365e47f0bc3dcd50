//revive:disable-next-line:var-naming // legacy package name used across the project
package model

// UserDiff is the before/after structure passed to user-update hooks. A nil
// diff means "no user on that side" (newly created or deleted). Params maps
// method name to the changed parameter keys and values for that method.
//
// The diff is the only place a plaintext password transits between
// components: a password change appears as Params["password"]["password"]
// exactly once, is forwarded to outer-sync hooks, and is never persisted.
type UserDiff struct {
	UserID string                       `json:"user_id"`
	Params map[string]map[string]string `json:"params,omitempty"`
}

// Param returns the value at (method, key) and whether it is present.
func (d *UserDiff) Param(method, key string) (string, bool) {
	if d == nil || d.Params == nil {
		return "", false
	}
	m, ok := d.Params[method]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// SetParam records a changed parameter, allocating nested maps as needed.
func (d *UserDiff) SetParam(method, key, value string) {
	if d.Params == nil {
		d.Params = make(map[string]map[string]string)
	}
	if d.Params[method] == nil {
		d.Params[method] = make(map[string]string)
	}
	d.Params[method][key] = value
}

// AsMap renders the diff as a generic map for expression evaluation.
func (d *UserDiff) AsMap() map[string]any {
	if d == nil {
		return nil
	}
	params := make(map[string]any, len(d.Params))
	for method, kv := range d.Params {
		inner := make(map[string]any, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		params[method] = inner
	}
	return map[string]any{
		"user_id": d.UserID,
		"params":  params,
	}
}
