package types

import (
	"errors"
	"fmt"
)

var (
	ErrTransientIO                 = errors.New("transient io error")
	ErrUnknownMessageType          = errors.New("unknown message type")
	ErrIncompleteRecord            = errors.New("incomplete record")
	ErrConflictingTransactionState = errors.New("conflicting transaction state")
	ErrUnsupportedChangeVariant    = errors.New("unsupported change variant")
	ErrFeedRequest                 = errors.New("change feed request rejected")
)

func TransientIOError(baseErr error) error {
	return fmt.Errorf("%w: %w", ErrTransientIO, baseErr)
}

func UnknownMessageTypeError(typeName string) error {
	return fmt.Errorf("%w: %q", ErrUnknownMessageType, typeName)
}

// IncompleteRecordError names the record and the first required field found missing.
func IncompleteRecordError(id, field string) error {
	return fmt.Errorf("%w: %s is missing %s", ErrIncompleteRecord, id, field)
}

func ConflictingTransactionStateError(baseErr error) error {
	return fmt.Errorf("%w: %w", ErrConflictingTransactionState, baseErr)
}

func UnsupportedChangeVariantError(kind ChangeKind, entityType string) error {
	return fmt.Errorf("%w: %s item on %s", ErrUnsupportedChangeVariant, kind, entityType)
}

func FeedRequestError(statusCode int, msg string) error {
	return fmt.Errorf("%w, %d: %s", ErrFeedRequest, statusCode, msg)
}

// IsTransient reports whether retrying the failed operation may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
