package wire

// Operation identifies what a request asks the server to do.
type Operation uint8

const (
	// OpPing checks session liveness. Allowed on any session.
	OpPing Operation = 1

	// OpRestoreFile restores a batch of files from a repository.
	// Privileged: requires an authenticated session.
	OpRestoreFile Operation = 2

	// OpQuit ends the session cleanly.
	OpQuit Operation = 3
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPing:
		return "Ping"
	case OpRestoreFile:
		return "RestoreFile"
	case OpQuit:
		return "Quit"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a valid coffer operation.
func (o Operation) IsValid() bool {
	return o >= OpPing && o <= OpQuit
}

// Privileged returns true if the operation requires an authenticated session.
func (o Operation) Privileged() bool {
	return o == OpRestoreFile
}
