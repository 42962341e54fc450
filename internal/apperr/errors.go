// Package apperr builds the request-facing error envelopes shared by the
// intake path and the transports.
package apperr

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized   = "UNAUTHORIZED"
	TextCodeMisconfigured  = "MISCONFIGURED"
	TextCodeBadInput       = "BAD_INPUT"
	TextCodeStorageFailure = "STORAGE_FAILURE"
	TextCodeNotFound       = "NOT_FOUND"
)

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Unauthorized reports a missing or invalid webhook signature.
func Unauthorized(message string) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeUnauthorized, nil)
}

// Misconfigured reports a server-side configuration problem. Requests fail closed.
func Misconfigured(message string) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, TextCodeMisconfigured, nil)
}

func BadInput(source error, message string) error {
	return wrapError(source, goerrors.CategoryBadInput, message, http.StatusBadRequest, TextCodeBadInput, nil)
}

func NotFound(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound, metadata)
}

func Storage(source error, message string) error {
	return wrapError(source, goerrors.CategoryOperation, message, http.StatusInternalServerError, TextCodeStorageFailure, nil)
}

// StatusCode extracts the HTTP status carried by an envelope, defaulting to 500.
func StatusCode(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// TextCode extracts the envelope text code, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// HasTextCode reports whether err carries the given envelope text code.
func HasTextCode(err error, textCode string) bool {
	return err != nil && TextCode(err) == textCode
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryAuth
}

// Message returns the envelope's public message, or "" for plain errors.
func Message(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	return ""
}
