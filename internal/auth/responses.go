// responses.go -- Package-wide HTTP response helpers.
//
// All messages are plain ASCII - no user-controlled input is interpolated.
package auth

import (
	"net/http"
)

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"message":"internal server error"}`))
}

// Forbidden writes a bare 403 with no body.
// Every callback rejection goes through here so the response never reveals
// which check failed.
func Forbidden(w http.ResponseWriter) {
	w.WriteHeader(http.StatusForbidden)
}

// TemporaryRedirect writes a 307 with Location set and no body.
// Unlike http.Redirect it leaves the body and Content-Type alone.
func TemporaryRedirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusTemporaryRedirect)
}
