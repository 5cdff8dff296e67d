package services

import "errors"

// ErrSessionNotFound is returned for unknown, dropped or expired session IDs.
var ErrSessionNotFound = errors.New("ledger session not found")
