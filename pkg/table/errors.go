package table

import (
	"errors"
	"fmt"
)

// LoadError is returned when a source cannot be read or parsed into a table.
// It is fatal to that source only.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// ParseError describes a single cell that could not be interpreted. Cleaners
// record these for audit and replace the cell; they are never returned as
// failures.
type ParseError struct {
	Column string
	Row    int
	Raw    interface{}
	Kind   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d column %s: cannot parse %v as %s", e.Row, e.Column, e.Raw, e.Kind)
}
