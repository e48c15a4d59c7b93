package certs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no certificate matches the request.
	ErrNotFound = errors.New("no certificate found")
	// ErrExpired is returned when the selected certificate is no longer valid.
	ErrExpired = errors.New("certificate expired")
)

// NotFoundError names what was searched for and where
type NotFoundError struct {
	Names    []string
	Keychain string
}

func (e *NotFoundError) Error() string {
	where := "the default keychain search list"
	if e.Keychain != "" {
		where = "keychain " + e.Keychain
	}
	return fmt.Sprintf("%s matching %q in %s", ErrNotFound, strings.Join(e.Names, `", "`), where)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExpiredError reports a certificate whose validity period has ended
type ExpiredError struct {
	Name     string
	NotAfter time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s: %q expired on %s", ErrExpired, e.Name, e.NotAfter.Format(time.RFC3339))
}

func (e *ExpiredError) Unwrap() error { return ErrExpired }
