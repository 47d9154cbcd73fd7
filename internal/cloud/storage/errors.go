// Package storage holds the error values shared by the upload backends.
package storage

import (
	"errors"
	"strings"
)

// Common upload errors
var (
	// ErrUploadRejected indicates the storage endpoint answered with a non-2xx status
	ErrUploadRejected = errors.New("upload rejected")
	// ErrInvalidResponse indicates a reservation answer that could not be used
	ErrInvalidResponse = errors.New("invalid response from upload endpoint")
	// ErrMissingCredentials indicates a backend was selected without its credentials
	ErrMissingCredentials = errors.New("missing storage credentials")
	// ErrFileChanged indicates the local file changed size between selection and transfer
	ErrFileChanged = errors.New("local file changed during operation")
)

// IsNetworkError checks if an error is network-related
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkIndicators := []string{
		"connection",    // connection refused, connection reset, etc.
		"timeout",       // i/o timeout, dial timeout, etc.
		"network",       // network unreachable, network error, etc.
		"eof",           // unexpected EOF
		"broken pipe",   // broken pipe
		"tls handshake", // TLS handshake errors
		"no such host",  // DNS
	}

	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsCredentialError checks if an error is authentication/authorization related.
// A missing-credentials error counts.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredentials) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	credentialIndicators := []string{
		"403",                     // HTTP Forbidden
		"401",                     // HTTP Unauthorized
		"unauthorized",            // HTTP Unauthorized
		"expired",                 // expired token/credential
		"expiredtoken",            // AWS specific
		"invalid token",           // invalid authentication
		"authenticationfailed",    // Azure SAS
		"signaturedoesnotmatch",   // AWS signature
		"invalidaccesskeyid",      // AWS key
		"authorizationpermission", // Azure RBAC
	}

	for _, indicator := range credentialIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// Hint returns a short suggestion for a failed upload, or "" when none applies.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCredentialError(err):
		return "check the storage credentials (S3 keys or Azure SAS token)"
	case IsNetworkError(err):
		return "check the network connection and proxy settings"
	case errors.Is(err, ErrFileChanged):
		return "the file was modified after it was selected; select it again"
	default:
		return ""
	}
}
