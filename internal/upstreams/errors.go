package upstreams

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the named upstream or server is unknown.
	ErrNotFound = errors.New("upstreams: not found")

	// ErrInvalid is returned for input rejected before contacting the gateway.
	ErrInvalid = errors.New("upstreams: invalid input")
)

// ConflictError rejects an edit that clashes with existing state.
type ConflictError struct {
	Name   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("upstreams: %s: %s", e.Name, e.Reason)
}

const (
	ReasonNameExists   = "upstream name already exists"
	ReasonRename       = "cannot change upstream name"
	ReasonServerExists = "server already exists"
)
