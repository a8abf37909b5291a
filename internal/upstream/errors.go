package upstream

import "fmt"

// AuthExpiredError is returned when the remote service rejects the session,
// typically with 401 Unauthorized or 403 Forbidden. Callers may reconnect and
// retry once.
type AuthExpiredError struct {
	Operation  string // The operation that required a valid session
	StatusCode int    // HTTP status code, 0 when no session was available at all
	Err        error  // Underlying error, if any
}

func (e *AuthExpiredError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("session expired during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("session expired during %s", e.Operation)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport failures and non-2xx API responses other
// than authentication failures.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "connect", "add_links")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// InvalidResponseError is returned when a response body cannot be decoded
// into the expected shape.
type InvalidResponseError struct {
	Operation string
	Err       error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response during %s: %v", e.Operation, e.Err)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}
