package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for any non-2xx response from the chat service.
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("chat api %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("chat api %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

// StatusOf returns the HTTP status carried by err, or 0 if err is not an
// *Error.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err (or any error in its chain) is a 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsAuthError reports whether err is a 401 or 403 response.
func IsAuthError(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}
