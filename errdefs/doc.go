// Package errdefs holds the error classes shared by every flowkit component.
// Each class maps onto an api.ErrorCode so that failures can be surfaced on a
// Response without a separate exception channel. Errors may be wrapped with
// github.com/pkg/errors; the predicates look through the wrapping.
package errdefs
