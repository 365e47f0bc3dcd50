package data

import "errors"

// Shared sentinel errors for data-layer repositories. Services translate
// these into the client-facing error taxonomy.
var (
	ErrUserNotFound = errors.New("user not found")

	ErrCredentialNotFound  = errors.New("credential param not found")
	ErrDuplicateCredential = errors.New("credential value already claimed by another user")

	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupNameExists = errors.New("group name already exists")

	ErrScopeNotFound   = errors.New("scope not found")
	ErrScopeNameExists = errors.New("scope name already exists")

	ErrSessionNotFound = errors.New("session not found")

	ErrOptionNotFound = errors.New("dynamic option not found")
)
