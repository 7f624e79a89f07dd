package panel

import "fmt"

// AuthError indicates the panel rejected the client credentials or
// could not issue a token. It is not retried beyond the transport-level
// retries of the token request itself.
type AuthError struct {
	Panel string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("panel %s: auth failed: %v", e.Panel, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure that survived all retries.
type NetworkError struct {
	Panel string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("panel %s: request failed: %v", e.Panel, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response that survived all retries.
type StatusError struct {
	Panel  string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("panel %s: http status %d", e.Panel, e.Status)
}

// APIError is a well-formed error envelope from the panel (2xx HTTP,
// non-200 application code). It carries the panel's own message and is
// never retried.
type APIError struct {
	Panel   string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panel %s: code %d: %s", e.Panel, e.Code, e.Message)
}

// DecodeError is a response whose body did not match the expected
// envelope shape.
type DecodeError struct {
	Panel string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("panel %s: unexpected response shape: %v", e.Panel, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
