package service

import (
	"errors"
	"time"

	"pdv/internal/domainerr"
	"pdv/internal/repository"
)

// Clock returns the current time. Tests pin it; production passes time.Now.
type Clock func() time.Time

// orNow falls back to the wall clock.
func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// notFound maps repository.ErrNotFound onto the domain error for the entity.
func notFound(err error, nf *domainerr.Error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nf
	}
	return err
}
