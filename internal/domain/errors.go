// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotConnected indicates the Federation Gateway link is down.
var ErrNotConnected = errors.New("not connected to gateway")

// ErrValidation indicates malformed input (bad event payload, bad task).
var ErrValidation = errors.New("validation failed")
