package core

import "fmt"

// ValidationError rejects bad input before any provider or persistence call.
// It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NotFoundError reports an unknown institution, requisition or account. It
// is terminal for the request or job that raised it.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
