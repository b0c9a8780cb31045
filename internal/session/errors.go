package session

import "errors"

// ErrCarrierIDConflict is returned when a session that already has a
// carrier call id is linked to a different one. The first link wins;
// re-linking the same id is a no-op.
var ErrCarrierIDConflict = errors.New("carrier call id already linked to this session")

// ErrCarrierIDTaken is returned when the carrier call id is already mapped
// to another session.
var ErrCarrierIDTaken = errors.New("carrier call id already linked to another session")

// ErrSessionEnded is returned by operations that require a live session.
var ErrSessionEnded = errors.New("session has ended")
