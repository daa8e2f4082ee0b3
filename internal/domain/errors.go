// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed or out-of-range input.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates a uniqueness or concurrent modification conflict.
var ErrConflict = errors.New("conflict")

// ErrForbidden indicates the caller may not access the requested resource.
var ErrForbidden = errors.New("forbidden")

// ErrConfiguration indicates a group-chat run cannot start because a
// participant is unresolvable or lacks required configuration.
var ErrConfiguration = errors.New("configuration error")

// ErrProvider indicates the model-completion provider failed or timed out.
var ErrProvider = errors.New("provider fault")
