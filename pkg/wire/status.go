package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusError indicates the operation failed; the response Error field
	// carries the reason.
	StatusError Status = 1

	// StatusDenied indicates a privileged operation was refused because the
	// session is not authenticated.
	StatusDenied Status = 2

	// StatusUnknownOp indicates the server does not recognize the operation.
	StatusUnknownOp Status = 3
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	case StatusDenied:
		return "DENIED"
	case StatusUnknownOp:
		return "UNKNOWN_OP"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
