package db

// QueryError marks failures caused by the query itself: malformed input,
// denied permission, or misuse of an operator. Transports map these to
// client-visible errors; anything else is an internal storage failure.
type QueryError struct {
	message string
}

func (e *QueryError) Error() string { return e.message }

// NewQueryError creates a QueryError with the provided message.
func NewQueryError(message string) *QueryError {
	return &QueryError{message: message}
}

var (
	// ErrMalformedQuery is returned when a query is missing its path or type.
	ErrMalformedQuery = NewQueryError("malformed query")

	// ErrPathTooDeep is returned when a path exceeds the maximum depth.
	ErrPathTooDeep = NewQueryError("path is too deep, at most 10 segments are allowed")

	// ErrInvalidPath is returned when a path segment contains characters
	// outside a-z A-Z 0-9 '_' '-' '<' '>'.
	ErrInvalidPath = NewQueryError("path segments may only contain a-z A-Z 0-9 '_' '-' '<' '>'")

	// ErrNoPermission is returned when the active rule engine denies the
	// operation or a root-only operation is attempted without root.
	ErrNoPermission = NewQueryError("no permission")

	// ErrNotBatchCompatible is returned when a read query is mixed into a
	// multi-query call.
	ErrNotBatchCompatible = NewQueryError("query is not batch compatible")
)
