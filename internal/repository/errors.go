package repository

import "errors"

// ErrDuplicate is returned when an insert violates a uniqueness rule, such as
// a second in_progress optimization for the same user and portfolio.
var ErrDuplicate = errors.New("duplicate record")
