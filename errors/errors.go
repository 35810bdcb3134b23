// Package errors provides small error-accumulation utilities used by
// machine-definition validation, where every problem in a config should be
// reported in one pass instead of failing on the first.
package errors

import (
	"errors"
	"fmt"
)

// Collection is a thread-unsafe accumulator for multiple errors.
// Use it when several independent checks should all run and their failures
// be returned together.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Addf appends a formatted error to the collection.
func (c *Collection) Addf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...)) //nolint:err113
}

// HasErrors returns true if the collection contains at least one error.
func (c *Collection) HasErrors() bool {
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	return len(c.errors)
}

// GetError returns the collected errors as a single error: nil when empty,
// the sole error when there is one, and errors.Join otherwise.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
