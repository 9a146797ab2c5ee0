package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error types
var (
	// ErrInvalidArgument indicates a missing or malformed upload field
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates the requested object or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInfrastructure indicates a storage, pool or transaction failure
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrOrphanedObject indicates an object was written but its record was not committed
	ErrOrphanedObject = errors.New("object stored without metadata")

	// ErrDuplicateKey indicates a record for the file key already exists
	ErrDuplicateKey = errors.New("file key already recorded")

	// ErrStreamConsumed indicates a download stream was iterated more than once
	ErrStreamConsumed = errors.New("download stream already consumed")
)

// ValidationError lists the fields that failed validation, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidArgument, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// StorageError represents an error related to object store operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports transport failures as ErrInfrastructure. A missing object is not one.
func (e *StorageError) Is(target error) bool {
	return target == ErrInfrastructure && !errors.Is(e.Err, ErrNotFound)
}

// TxError represents a failure of the transaction machinery itself
// (acquire, begin, commit), as opposed to a failure of the work inside it.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

func (e *TxError) Is(target error) bool {
	return target == ErrInfrastructure
}

// OrphanedObjectError is returned when an object was written but its record
// could not be committed. The object is left in the store.
type OrphanedObjectError struct {
	ObjectKey string
	Err       error
}

func (e *OrphanedObjectError) Error() string {
	return fmt.Sprintf("object %s stored without metadata: %v", e.ObjectKey, e.Err)
}

func (e *OrphanedObjectError) Unwrap() error {
	return e.Err
}

func (e *OrphanedObjectError) Is(target error) bool {
	return target == ErrOrphanedObject
}
