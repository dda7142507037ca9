package table

import (
	"fmt"
	"strings"
)

// MissingColumnError reports a field the source dataset does not carry.
type MissingColumnError struct {
	Column    string
	// Group is where the column was looked up ("obs", "obsm", or a file name).
	Group     string
	// Available lists the columns the group does carry, when known.
	Available []string
}

func (e *MissingColumnError) Error() string {
	msg := fmt.Sprintf("missing column %q", e.Column)
	if e.Group != "" {
		msg += " in " + e.Group
	}
	if len(e.Available) > 0 {
		msg += " (available: " + strings.Join(e.Available, ", ") + ")"
	}
	return msg
}

// SchemaMismatchError reports embedding tables that cannot be stacked.
type SchemaMismatchError struct {
	Want   []string
	Got    []string
	// Method is the embedding method tag of the offending table.
	Method string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch for %s: clustering columns [%s], expected [%s]",
		e.Method, strings.Join(e.Got, ", "), strings.Join(e.Want, ", "))
}

// DegenerateRangeError reports a column whose observed min equals its max.
type DegenerateRangeError struct {
	Column string
	Value  float64
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("column %q has zero range (every value is %g)", e.Column, e.Value)
}

// NonFiniteError reports an infinite value in a column that is min-max scaled.
type NonFiniteError struct {
	Column string
	Index  int
	Value  float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("column %q has non-finite value %g at row %d", e.Column, e.Value, e.Index)
}
