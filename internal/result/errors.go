package result

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResult matches *EmptyResultError.
	ErrEmptyResult = errors.New("empty result")
	// ErrMalformedResult matches *MalformedResultError.
	ErrMalformedResult = errors.New("malformed result")
	// ErrPartialFailure matches *PartialFailureError.
	ErrPartialFailure = errors.New("partial failure")
	// ErrEmptyMerge matches *EmptyMergeError.
	ErrEmptyMerge = errors.New("nothing to merge")
	// ErrUnexpectedShape matches *UnexpectedShapeError.
	ErrUnexpectedShape = errors.New("unexpected payload shape")
	// ErrQueryFailed matches *QueryFailedError.
	ErrQueryFailed = errors.New("query failed")
)

// EmptyResultError reports a result set with no rows to normalize.
type EmptyResultError struct {
	Query string
}

func (e *EmptyResultError) Error() string {
	if e.Query == "" {
		return "result contains no rows"
	}
	return fmt.Sprintf("query %q returned no rows", e.Query)
}

func (e *EmptyResultError) Is(target error) bool { return target == ErrEmptyResult }

// MalformedResultError reports a result row that is not a JSON object.
type MalformedResultError struct {
	Index int
	Got   string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("result row %d is not a record (got %s)", e.Index, e.Got)
}

func (e *MalformedResultError) Is(target error) bool { return target == ErrMalformedResult }

// PartialFailureError reports the first failing query of a batch.
type PartialFailureError struct {
	Query    string
	Position int
	Status   string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("query %d (%q) not successful: %s", e.Position, e.Query, e.Status)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// EmptyMergeError reports a merge called without any results.
type EmptyMergeError struct{}

func (e *EmptyMergeError) Error() string { return "merge called with no results" }

func (e *EmptyMergeError) Is(target error) bool { return target == ErrEmptyMerge }

// UnexpectedShapeError reports a payload missing an expected nested key.
type UnexpectedShapeError struct {
	Query string
	Path  string
	Key   string
}

func (e *UnexpectedShapeError) Error() string {
	return fmt.Sprintf("query %q returned no useful result: missing %q in %s", e.Query, e.Key, e.Path)
}

func (e *UnexpectedShapeError) Is(target error) bool { return target == ErrUnexpectedShape }

// QueryFailedError reports extraction attempted on an unsuccessful result.
type QueryFailedError struct {
	Query  string
	Status string
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query %q returned failure: %s", e.Query, e.Status)
}

func (e *QueryFailedError) Is(target error) bool { return target == ErrQueryFailed }
