package persist

import "fmt"

// OverwriteError is returned when a save targets a key that already
// holds an object. Checkpoints are immutable once written.
type OverwriteError struct {
	Key string
}

func (e *OverwriteError) Error() string {
	return fmt.Sprintf("persist: overwrite protection: %s already exists", e.Key)
}

// NotFoundError is returned when a load targets a key that does not
// exist in the collection.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("persist: %s not found", e.Key)
}

// BackendError wraps a transport, auth, or otherwise unexpected backend
// failure. It is deliberately distinct from NotFoundError: a failed
// existence check must never be read as "absent".
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("persist: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
