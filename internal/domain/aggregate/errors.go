package aggregate

import "errors"

// ErrDomain matches every business rule violation
var ErrDomain = errors.New("domain error")

// DomainError is a business rule violation. It is returned to the caller
// and never retried.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }

func (e *DomainError) Is(target error) bool { return target == ErrDomain }
