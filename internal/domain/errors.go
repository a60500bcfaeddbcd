package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing vehicle id, empty batch, malformed coordinate).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrInvalidState is returned when an operation is not allowed in the trail's
// current lifecycle state (e.g. appending points to a stale or closed trail).
// Handlers should map this to HTTP 409 Conflict.
var ErrInvalidState = errors.New("invalid trail state")
