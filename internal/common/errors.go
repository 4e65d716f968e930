// Package common holds the error taxonomy shared by the services and the
// HTTP layer. Services wrap these with fmt.Errorf("...: %w", err) and the
// HTTP layer matches them with errors.Is.
package common

import "errors"

var (
	// store/storage specific errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// auth specific errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// request specific errors
	ErrValidation = errors.New("validation error")
	ErrBadRequest = errors.New("bad request")
)

// DetailError carries the message that is safe to show to the client
// alongside a sentinel from this package.
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string {
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DetailError) Unwrap() error {
	return e.Kind
}

// WithDetail attaches a client-facing message to kind.
func WithDetail(kind error, detail string) error {
	return &DetailError{Kind: kind, Detail: detail}
}

// Detail returns the client-facing message attached to err, or "" when
// there is none.
func Detail(err error) string {
	var de *DetailError
	if errors.As(err, &de) {
		return de.Detail
	}
	return ""
}
