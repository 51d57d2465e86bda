// Package session mints the identifiers that tag every envelope a
// transport sends. An ID correlates traffic and lets a receiver spot its own
// echoes; it is not a credential and proves nothing about the sender.
package session

import (
	"github.com/google/uuid"
)

// ID is an opaque, globally unique session identifier.
type ID string

// New mints a fresh random (version 4) session ID.
func New() ID {
	return ID(uuid.NewString())
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Valid reports whether id has the shape of an ID minted by New.
func (id ID) Valid() bool {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return false
	}
	return u.Version() == 4
}
