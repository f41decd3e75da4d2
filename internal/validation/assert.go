// Package validation provides helpers for defensive programming and contract enforcement.
package validation

import "fmt"

// AssertNotNil panics if the provided pointer is nil. Constructors use it for
// dependencies that must be wired at composition time; a nil here is a
// programmer error, not a runtime condition.
//
// Usage:
//
//	validation.AssertNotNil(store, "data store")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotEmpty panics if the provided string is empty. Used for mandatory
// identifiers and credentials resolved at startup.
func AssertNotEmpty(s, name string) {
	if s == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}
