package db

import "fmt"

// ConnectionError is returned once connecting has failed on every attempt.
type ConnectionError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IntrospectionError is returned when a catalog read fails. It is never
// retried.
type IntrospectionError struct {
	Provider string
	Stage    string
	Err      error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspect %s %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }
