// Package utils holds small nil-safety helpers for optional values, mostly
// pointer-typed JSON fields like the token endpoint's optional refresh_token.
package utils

// Value dereferences v, yielding the zero value when v is nil.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// Ptr returns a pointer to v, useful for literal optional fields.
func Ptr[T any](v T) *T {
	return &v
}
