package repositories

import (
	"errors"

	"gorm.io/gorm"
)

// ErrDuplicateAttempt is returned by CreateNumbered when the
// (assessment, learner, attempt_number) unique index rejects the insert,
// meaning a concurrent start claimed the same attempt number first.
var ErrDuplicateAttempt = errors.New("attempt number already taken")

// IsNotFoundError reports whether err is a record-not-found from the store.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateError reports whether err is a unique-constraint violation on
// the attempt-number index.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicateAttempt) || errors.Is(err, gorm.ErrDuplicatedKey)
}
