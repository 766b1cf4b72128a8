package dossier

import (
	"errors"
	"time"
)

var (
	ErrNotFound                  = errors.New("dossier: not found")
	ErrExpired                   = errors.New("dossier: expired")
	ErrUnauthenticated           = errors.New("dossier: unauthenticated")
	ErrForbidden                 = errors.New("dossier: forbidden")
	ErrDecryption                = errors.New("dossier: payload could not be decrypted")
	ErrArtifactNotFound          = errors.New("dossier: artifact not found")
	ErrInvalidInput              = errors.New("dossier: invalid input")
	ErrUnsupportedPayloadVersion = errors.New("dossier: unsupported payload version")
)

// ExpiredError carries the retention expiry so callers can surface it.
type ExpiredError struct {
	ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	return "dossier: expired at " + e.ExpiresAt.UTC().Format(time.RFC3339)
}

func (e *ExpiredError) Unwrap() error { return ErrExpired }
